package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Class decides what the step runner does with a failed attempt.
type Class int

const (
	// Retriable failures are retried with backoff, then fall back.
	Retriable Class = iota
	// Permanent failures skip retries and go straight to the fallback.
	Permanent
	// Terminal failures abort the run.
	Terminal
)

func (c Class) String() string {
	switch c {
	case Permanent:
		return "permanent"
	case Terminal:
		return "terminal"
	default:
		return "retriable"
	}
}

type classified struct {
	class Class
	err   error
}

func (e *classified) Error() string { return e.err.Error() }
func (e *classified) Unwrap() error { return e.err }

// AsTerminal marks err as aborting the run.
func AsTerminal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: Terminal, err: err}
}

// AsPermanent marks err as not worth retrying.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: Permanent, err: err}
}

// Classify maps an error to its Class. A missing ticket is terminal; store
// timeouts and invalid writes are permanent; everything else is retriable.
func Classify(err error) Class {
	var c *classified
	switch {
	case errors.As(err, &c):
		return c.class
	case errors.Is(err, ticket.ErrNotFound):
		return Terminal
	case errors.Is(err, ticket.ErrInvalid), errors.Is(err, context.DeadlineExceeded):
		return Permanent
	default:
		return Retriable
	}
}

// StepError is a terminal step failure carried to the Outcome.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// PersistenceError is a failed analysis write.
type PersistenceError struct {
	TicketID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist analysis for ticket %s: %v", e.TicketID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// errRecordedFailure is returned when replaying a step that failed before.
type errRecordedFailure struct{ msg string }

func (e *errRecordedFailure) Error() string { return "previously failed: " + e.msg }
