// Package applier runs an ordered list of statements against one endpoint and
// reports what happened to each of them.
//
// A failed statement does not stop the run. Every statement is attempted in
// order, then every verification check is evaluated, and the report says which
// ones need attention. Only an endpoint that cannot be reached at the start
// aborts the run.
package applier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/executor"
	"github.com/kazi/sqlapply/internal/migration"
	"github.com/kazi/sqlapply/internal/report"
	"github.com/kazi/sqlapply/internal/verify"
)

const tracerName = "github.com/kazi/sqlapply/internal/applier"

// Applier applies statements through an executor.
type Applier struct {
	exec     executor.Executor
	endpoint database.Endpoint
	logger   *log.Logger
	tracer   trace.Tracer
	verbose  bool
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the progress logger. Without one nothing is logged.
func WithLogger(l *log.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithVerbose logs every statement, not just failures.
func WithVerbose(v bool) Option {
	return func(a *Applier) { a.verbose = v }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(a *Applier) { a.tracer = t }
}

// New creates an applier for an already opened executor. endpoint is used
// for timeouts and for the report; its credential is never logged.
func New(exec executor.Executor, endpoint database.Endpoint, opts ...Option) *Applier {
	a := &Applier{
		exec:     exec,
		endpoint: endpoint.WithDefaults(),
		logger:   log.New(io.Discard, "", 0),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply runs stmts in order, then evaluates checks.
//
// The returned report is never nil once input validation passes. The error is
// nil when every non-optional statement succeeded and every check passed;
// otherwise it matches executor.ErrEndpointUnreachable (run aborted before any
// statement), executor.ErrStatementRejected and/or
// report.ErrVerificationMismatch. Cancelling ctx stops the run after the
// current statement; the statements not yet attempted are recorded as failed
// and the run is never reported as a success.
func (a *Applier) Apply(ctx context.Context, stmts []migration.Statement, checks []verify.Check) (*report.RunReport, error) {
	if err := migration.Validate(stmts); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	rep := report.New(a.endpoint.Redacted(), string(a.endpoint.Kind), len(stmts))
	total := stmts[len(stmts)-1].Index
	if total < len(stmts) {
		total = len(stmts)
	}
	rep.Total = total

	ctx, span := a.tracer.Start(ctx, "sqlapply.apply", trace.WithAttributes(
		attribute.String("sqlapply.run_id", rep.RunID),
		attribute.String("sqlapply.endpoint_kind", rep.EndpointKind),
		attribute.Int("sqlapply.statements", len(stmts)),
		attribute.Int("sqlapply.checks", len(checks)),
	))
	defer span.End()

	if err := rep.Transition(report.StateRunning); err != nil {
		return nil, err
	}

	a.logger.Printf("Connecting to %s (%s)", rep.Endpoint, rep.EndpointKind)
	if err := a.exec.Ping(ctx); err != nil {
		err = executor.Unreachable(err)
		a.logger.Printf("✗ Endpoint unreachable: %v", err)
		if abortErr := rep.Abort(err); abortErr != nil {
			return rep, abortErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "endpoint unreachable")
		return rep, rep.Err()
	}

	a.logger.Printf("Applying %d statement(s)", len(stmts))
	for i, stmt := range stmts {
		if ctx.Err() != nil {
			a.logger.Printf("Run cancelled before statement %d/%d", stmt.Index, total)
			rep.RecordNotAttempted(pending(stmts[i:])...)
			break
		}
		res := a.execute(ctx, stmt, total)
		rep.Record(res)
	}

	if ctx.Err() == nil {
		a.runChecks(ctx, rep, checks)
	} else {
		rep.Cancelled = true
	}

	if err := rep.Complete(); err != nil {
		return rep, err
	}

	span.SetAttributes(
		attribute.String("sqlapply.status", string(rep.Status)),
		attribute.Int("sqlapply.failed_statements", len(rep.FailedStatements)),
		attribute.Int("sqlapply.failed_checks", len(rep.FailedChecks)),
	)

	runErr := rep.Err()
	if ctx.Err() != nil {
		runErr = errors.Join(runErr, ctx.Err())
	}
	if runErr != nil {
		span.SetStatus(codes.Error, string(rep.Status))
	}
	a.logger.Printf("Finished: %d/%d statements succeeded", rep.Succeeded(), len(rep.Results))
	return rep, runErr
}

// Verify evaluates checks without applying anything. The report has no
// statement results; its status is partial_failure when a check fails and
// aborted when the endpoint cannot be reached.
func (a *Applier) Verify(ctx context.Context, checks []verify.Check) (*report.RunReport, error) {
	if len(checks) == 0 {
		return nil, fmt.Errorf("invalid input: no checks to run")
	}
	for _, c := range checks {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	rep := report.New(a.endpoint.Redacted(), string(a.endpoint.Kind), 0)
	ctx, span := a.tracer.Start(ctx, "sqlapply.verify", trace.WithAttributes(
		attribute.String("sqlapply.run_id", rep.RunID),
		attribute.Int("sqlapply.checks", len(checks)),
	))
	defer span.End()

	if err := rep.Transition(report.StateRunning); err != nil {
		return nil, err
	}
	if err := a.exec.Ping(ctx); err != nil {
		err = executor.Unreachable(err)
		a.logger.Printf("✗ Endpoint unreachable: %v", err)
		if abortErr := rep.Abort(err); abortErr != nil {
			return rep, abortErr
		}
		span.SetStatus(codes.Error, "endpoint unreachable")
		return rep, rep.Err()
	}

	a.runChecks(ctx, rep, checks)
	if err := rep.Complete(); err != nil {
		return rep, err
	}
	if err := rep.Err(); err != nil {
		span.SetStatus(codes.Error, string(rep.Status))
		return rep, err
	}
	return rep, nil
}

func (a *Applier) runChecks(ctx context.Context, rep *report.RunReport, checks []verify.Check) {
	if len(checks) == 0 {
		return
	}
	a.logger.Printf("Running %d verification check(s)", len(checks))
	for _, c := range checks {
		outcome := verify.Evaluate(ctx, a.exec, c)
		if !outcome.Passed {
			if outcome.Error != "" {
				a.logger.Printf("✗ Check %q failed: %s", c.Name, outcome.Error)
			} else {
				a.logger.Printf("✗ Check %q: expected %q, got %q", c.Name, outcome.Expected, outcome.Actual)
			}
		} else if a.verbose {
			a.logger.Printf("✓ Check %q", c.Name)
		}
		rep.RecordCheck(outcome)
	}
}

func pending(stmts []migration.Statement) []report.ExecutionResult {
	out := make([]report.ExecutionResult, 0, len(stmts))
	for _, stmt := range stmts {
		out = append(out, report.ExecutionResult{
			Index:     stmt.Index,
			Label:     stmt.Label(),
			Statement: report.Preview(stmt.SQL),
			Optional:  stmt.Optional,
		})
	}
	return out
}

func (a *Applier) execute(ctx context.Context, stmt migration.Statement, total int) report.ExecutionResult {
	preview := report.Preview(stmt.SQL)
	res := report.ExecutionResult{
		Index:     stmt.Index,
		Label:     stmt.Label(),
		Statement: preview,
		Optional:  stmt.Optional,
	}

	ctx, span := a.tracer.Start(ctx, "sqlapply.statement", trace.WithAttributes(
		attribute.Int("sqlapply.index", stmt.Index),
		attribute.String("sqlapply.label", res.Label),
		attribute.Bool("sqlapply.optional", stmt.Optional),
	))
	defer span.End()

	if a.endpoint.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.endpoint.StatementTimeout)
		defer cancel()
	}

	if a.verbose {
		a.logger.Printf("[%d/%d] %s", stmt.Index, total, preview)
	}

	start := time.Now()
	err := a.exec.Exec(ctx, stmt.SQL)
	res.Duration = time.Since(start)

	if err == nil {
		res.Status = report.Succeeded
		return res
	}

	res.Status = report.Failed
	res.Reason = executor.Diagnostic(err)
	res.Transport = executor.IsTransport(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, res.Reason)

	mark := "✗"
	if stmt.Optional {
		mark = "!"
	}
	a.logger.Printf("%s Statement %d/%d failed (%s): %s", mark, stmt.Index, total, res.Label, preview)
	a.logger.Printf("  %s", res.Reason)
	return res
}
