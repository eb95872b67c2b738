// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import "errors"

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidOperation
	KindServiceUnavailable
	KindTooManyRequests
)

// String returns the stable machine-readable label used in response bodies.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}

// Error carries a kind, a client-safe message, optional field details and
// the underlying cause (never shown to clients in production).
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, details []string) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func Validation(msg string, details ...string) *Error {
	return newError(KindValidation, msg, details)
}

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

func Forbidden(msg string) *Error { return newError(KindForbidden, msg, nil) }

func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

func Conflict(msg string) *Error { return newError(KindConflict, msg, nil) }

func InvalidOperation(msg string) *Error { return newError(KindInvalidOperation, msg, nil) }

// ServiceUnavailable 数据库不可用时的写操作错误，detail 说明被拒绝的操作。
func ServiceUnavailable(msg string, details ...string) *Error {
	return newError(KindServiceUnavailable, msg, details)
}

func TooManyRequests(msg string) *Error { return newError(KindTooManyRequests, msg, nil) }

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
