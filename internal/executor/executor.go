// Package executor defines the remote execution interface statements are sent
// through, and the errors that separate transport failures from rejections.
package executor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndpointUnreachable marks a transport failure: the store could not be
	// reached or refused the credential.
	ErrEndpointUnreachable = errors.New("endpoint unreachable")

	// ErrStatementRejected marks a statement the store received and refused.
	ErrStatementRejected = errors.New("statement rejected")
)

// Executor sends one opaque statement per call to the target store.
type Executor interface {
	// Name identifies the implementation, e.g. "postgres" or "rest".
	Name() string

	// Ping checks the endpoint is reachable and the credential is accepted.
	Ping(ctx context.Context) error

	// Exec runs a single statement.
	Exec(ctx context.Context, statement string) error

	// QueryScalar runs a query and returns the first column of the first row
	// rendered as text. Used by verification checks.
	QueryScalar(ctx context.Context, query string) (string, error)

	Close() error
}

// RejectedError carries the diagnostic the store returned for a statement.
type RejectedError struct {
	Code       string
	Diagnostic string
	Err        error
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Diagnostic, e.Code)
	}
	return e.Diagnostic
}

func (e *RejectedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStatementRejected, e.Err}
	}
	return []error{ErrStatementRejected}
}

// Rejected wraps a store error as a rejection.
func Rejected(err error) error {
	if err == nil {
		return nil
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return err
	}
	return &RejectedError{Diagnostic: err.Error(), Err: err}
}

// Unreachable wraps a transport error so errors.Is(err, ErrEndpointUnreachable) holds.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEndpointUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEndpointUnreachable, err)
}

// IsTransport reports whether err is a transport failure rather than a rejection.
func IsTransport(err error) bool {
	return errors.Is(err, ErrEndpointUnreachable)
}

// Diagnostic extracts the operator-facing reason from an execution error.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Error()
	}
	return err.Error()
}
