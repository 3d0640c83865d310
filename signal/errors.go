package signal

import "fmt"

// Kind classifies a kernel error into one of the taxonomy buckets from
// spec.md §7. Kind is used for branching (retry, surfacing, HITL re-ask)
// rather than for pattern matching against signal names.
type Kind string

const (
	KindUsage       Kind = "usage_error"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindProvider    Kind = "provider_error"
	KindValidation  Kind = "validation_error"
	KindTimeout     Kind = "timeout_error"
	KindAborted     Kind = "aborted_error"
	KindInternal    Kind = "internal_error"
)

// Error is the kernel's uniform error type. Every error surfaced across a
// component boundary (store, recorder, session, attachment) is wrapped in
// an *Error so callers can branch on Kind with errors.As, the way the
// teacher's model.ProviderError is branched on in hooks.NewRunCompletedEvent.
type Error struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "store.append"
	Message   string
	Retryable bool
	Err       error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Err: cause}
}

// Retry marks the error as retryable at the caller's discretion (used for
// TimeoutError and non-fatal ProviderError per spec.md §7) and returns it
// for chaining.
func (e *Error) Retry() *Error {
	e.Retryable = true
	return e
}

// NotFound is a convenience constructor for the NotFound kind (recording,
// session, or prompt id unknown).
func NotFound(op, message string) *Error { return New(KindNotFound, op, message) }

// Conflict is a convenience constructor for the Conflict kind (operation
// invalid for current state).
func Conflict(op, message string) *Error { return New(KindConflict, op, message) }

// Aborted is a convenience constructor for the AbortedError kind.
func Aborted(op string) *Error { return New(KindAborted, op, "aborted") }

// Internal is a convenience constructor for the InternalError kind.
func Internal(op string, cause error) *Error { return Wrap(KindInternal, op, cause) }
