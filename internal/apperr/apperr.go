// Package apperr defines the error taxonomy shared by every component of
// the autonomous core, so the HTTP surface, the task executor, and the
// audit log can all dispatch on the same set of kinds.
package apperr

import "fmt"

// Kind classifies an error for HTTP status mapping and retry policy.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	InvalidState       Kind = "invalid_state"
	NotFound           Kind = "not_found"
	BudgetExceeded     Kind = "budget_exceeded"
	Denied             Kind = "denied"
	UpstreamUnavailable Kind = "upstream_unavailable"
	RateLimited        Kind = "rate_limited"
	Timeout            Kind = "timeout"
	Internal           Kind = "internal"
)

// Error wraps an underlying cause with a Kind for dispatch by callers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for
// unrecognized errors.
func KindOf(err error) Kind {
	var ae *Error
	if err == nil {
		return ""
	}
	if as(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Retryable reports whether errors of this kind should be retried by the
// task executor per spec.md §7.
func (k Kind) Retryable() bool {
	switch k {
	case UpstreamUnavailable, RateLimited, Timeout:
		return true
	default:
		return false
	}
}

// as is a tiny indirection over errors.As to keep this file's only
// import stdlib-minimal and testable.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
