package services

import "fmt"

// ValidationError: bad input, the caller's fault. Not retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PreconditionError: current state does not allow the operation, e.g.
// opening a session on a paid invoice. Surfaced to the user, not retried
// automatically.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// InvalidStateError: a lifecycle transition that the state machine
// forbids, e.g. cancelling a PAID invoice.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

// ConflictError: two gateway outcomes disagree about the same invoice.
// Logged at high severity and left for manual review; the reconciler
// never resolves it by silently picking a side.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// TransientError: the gateway timed out or was unreachable. Invoice
// state is untouched; the poller retries later.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient gateway failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError: the referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
