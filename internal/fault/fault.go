// Package fault defines the error taxonomy shared across the pipeline.
// Every error surfaced by the engine carries a Kind so callers can decide
// whether to retry, resume, or give up without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// Unknown is the zero kind; errors without classification.
	Unknown Kind = iota

	// Validation marks bad caller input. Never retried.
	Validation

	// NotFound marks a missing session, batch, or file.
	NotFound

	// InvalidState marks an operation attempted out of allowed step order.
	// The target is left unmodified.
	InvalidState

	// Provider marks a failure from the LLM provider: non-2xx status,
	// truncated or empty completion, unexpected stop reason.
	Provider

	// MalformedRecord marks an unparsable output line or a record with no
	// manifest match. Logged and skipped per record, never fatal to a batch.
	MalformedRecord

	// Timeout marks a request that exceeded its per-request deadline.
	Timeout

	// NotSupported marks an operation the configured provider cannot do.
	NotSupported
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Provider:
		return "provider"
	case MalformedRecord:
		return "malformed_record"
	case Timeout:
		return "timeout"
	case NotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Use New or Wrap to construct one.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a fault.Error of the same kind, so sentinel
// errors built with New compare by kind under errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// New creates a kinded error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// IsKind reports whether err (or anything it wraps) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
