// Package report holds the outcome record of one migration run.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kazi/sqlapply/internal/executor"
)

// ErrVerificationMismatch marks a run whose post-condition checks failed.
var ErrVerificationMismatch = errors.New("verification mismatch")

// ErrRunCancelled marks a run interrupted before every statement was attempted.
var ErrRunCancelled = errors.New("run cancelled")

// NotAttemptedReason is the failure reason of statements skipped by a
// cancelled run.
const NotAttemptedReason = "not attempted: run cancelled"

// State is the lifecycle position of a run.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Status is the overall verdict of a finished run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusAborted        Status = "aborted"
)

// ResultStatus is the outcome of a single statement.
type ResultStatus string

const (
	Succeeded ResultStatus = "succeeded"
	Failed    ResultStatus = "failed"
)

// PreviewLength is how much of a statement is kept in results and logs.
const PreviewLength = 100

// ExecutionResult records what happened to one statement.
type ExecutionResult struct {
	Index     int           `json:"index"`
	Label     string        `json:"label,omitempty"`
	Statement string        `json:"statement"`
	Status    ResultStatus  `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Transport bool          `json:"transport,omitempty"`
	Optional  bool          `json:"optional,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// CheckOutcome records one verification check.
type CheckOutcome struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Error    string `json:"error,omitempty"`
}

// RunReport is the complete outcome record of one apply attempt.
type RunReport struct {
	RunID        string    `json:"run_id"`
	Endpoint     string    `json:"endpoint"`
	EndpointKind string    `json:"endpoint_kind"`
	State        State     `json:"state"`
	Status       Status    `json:"status,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`

	Total   int               `json:"total"`
	Results []ExecutionResult `json:"results"`
	Checks  []CheckOutcome    `json:"checks"`

	FailedStatements []int    `json:"failed_statements,omitempty"`
	FailedChecks     []string `json:"failed_checks,omitempty"`

	// Cancelled is set when the run was interrupted. Such a run is never a
	// success, whatever its recorded results say.
	Cancelled bool `json:"cancelled,omitempty"`

	// Error is set when the run was aborted.
	Error string `json:"error,omitempty"`
}

// New creates an empty report for a run of total statements.
func New(endpoint, kind string, total int) *RunReport {
	return &RunReport{
		RunID:        uuid.NewString(),
		Endpoint:     endpoint,
		EndpointKind: kind,
		State:        StateNotStarted,
		Total:        total,
		Results:      []ExecutionResult{},
		Checks:       []CheckOutcome{},
	}
}

// Transition moves the run to the next state.
// Allowed: not_started → running → completed | aborted.
func (r *RunReport) Transition(to State) error {
	ok := false
	switch r.State {
	case StateNotStarted:
		ok = to == StateRunning
	case StateRunning:
		ok = to == StateCompleted || to == StateAborted
	}
	if !ok {
		return fmt.Errorf("invalid run state transition %s -> %s", r.State, to)
	}

	now := time.Now().UTC()
	switch to {
	case StateRunning:
		r.StartedAt = now
	case StateCompleted, StateAborted:
		r.FinishedAt = now
	}
	r.State = to
	return nil
}

// Record appends a statement result.
func (r *RunReport) Record(res ExecutionResult) {
	r.Results = append(r.Results, res)
}

// RecordNotAttempted records statements a cancelled run never reached as
// failed, so a retry of the failures picks them up.
func (r *RunReport) RecordNotAttempted(results ...ExecutionResult) {
	for _, res := range results {
		res.Status = Failed
		res.Reason = NotAttemptedReason
		r.Results = append(r.Results, res)
	}
	r.Cancelled = true
}

// RecordCheck appends a check outcome.
func (r *RunReport) RecordCheck(c CheckOutcome) {
	r.Checks = append(r.Checks, c)
}

// Abort marks the run as aborted by a fatal error.
func (r *RunReport) Abort(cause error) error {
	if err := r.Transition(StateAborted); err != nil {
		return err
	}
	r.Status = StatusAborted
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}

// Complete computes the status from the recorded results and checks.
func (r *RunReport) Complete() error {
	if err := r.Transition(StateCompleted); err != nil {
		return err
	}

	r.FailedStatements = nil
	for _, res := range r.Results {
		if res.Status == Failed && !res.Optional {
			r.FailedStatements = append(r.FailedStatements, res.Index)
		}
	}
	r.FailedChecks = nil
	for _, c := range r.Checks {
		if !c.Passed {
			r.FailedChecks = append(r.FailedChecks, c.Name)
		}
	}

	if len(r.FailedStatements) == 0 && len(r.FailedChecks) == 0 && !r.Cancelled {
		r.Status = StatusSuccess
	} else {
		r.Status = StatusPartialFailure
	}
	return nil
}

// Succeeded counts statements that succeeded.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == Succeeded {
			n++
		}
	}
	return n
}

// Err summarizes a non-successful run as an error matching
// executor.ErrStatementRejected and/or ErrVerificationMismatch.
func (r *RunReport) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusAborted:
		return fmt.Errorf("%w: %s", executor.ErrEndpointUnreachable,
			strings.TrimPrefix(r.Error, executor.ErrEndpointUnreachable.Error()+": "))
	}

	var errs []error
	if len(r.FailedStatements) > 0 {
		errs = append(errs, fmt.Errorf("%w: statements %s failed", executor.ErrStatementRejected, joinInts(r.FailedStatements)))
	}
	if len(r.FailedChecks) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrVerificationMismatch, strings.Join(r.FailedChecks, ", ")))
	}
	if r.Cancelled {
		errs = append(errs, fmt.Errorf("%w before every statement was attempted", ErrRunCancelled))
	}
	return errors.Join(errs...)
}

// ExitCode maps the status to a process exit status. A cancelled run exits
// like an aborted one.
func (r *RunReport) ExitCode() int {
	if r.Cancelled {
		return 2
	}
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusPartialFailure:
		return 1
	default:
		return 2
	}
}

// NotAttempted counts statements a cancelled run never reached.
func (r *RunReport) NotAttempted() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == Failed && res.Reason == NotAttemptedReason {
			n++
		}
	}
	return n
}

// Preview shortens a statement for logs, collapsing whitespace.
func Preview(sql string) string {
	flat := strings.Join(strings.Fields(sql), " ")
	runes := []rune(flat)
	if len(runes) <= PreviewLength {
		return flat
	}
	return string(runes[:PreviewLength]) + "..."
}

func joinInts(ints []int) string {
	parts := make([]string, len(ints))
	for i, n := range ints {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
