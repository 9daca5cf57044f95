// Package apperr provides standardized domain error types for the application.
// Services return these typed errors and the HTTP layer maps them to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found (or is outside the caller's tenant or scope).
	KindNotFound
	// KindValidation indicates invalid input data.
	KindValidation
	// KindConflict indicates a conflict with existing state (duplicate identifier, closed ticket).
	KindConflict
	// KindForbidden indicates the action is not allowed for the caller.
	KindForbidden
	// KindUnauthorized indicates authentication is required or failed.
	KindUnauthorized
	// KindBadRequest indicates a malformed or invalid request.
	KindBadRequest
	// KindInternal indicates an unexpected internal error.
	KindInternal
	// KindGone indicates a resource that existed but is no longer available.
	KindGone
	// KindTooManyRequests indicates a rate or quota limit was hit.
	KindTooManyRequests
	// KindUnavailable indicates an optional dependency (queue, storage) is not configured.
	KindUnavailable
)

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Op      string // operation that failed (optional)
	Err     error  // underlying error (optional)
	Details any    // additional response details (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInternal:
		return http.StatusInternalServerError
	case KindGone:
		return http.StatusGone
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithOp sets the operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetails sets response details and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func NotFound(message string) *Error        { return New(KindNotFound, message) }
func Validation(message string) *Error      { return New(KindValidation, message) }
func Conflict(message string) *Error        { return New(KindConflict, message) }
func Forbidden(message string) *Error       { return New(KindForbidden, message) }
func Unauthorized(message string) *Error    { return New(KindUnauthorized, message) }
func BadRequest(message string) *Error      { return New(KindBadRequest, message) }
func Internal(message string) *Error        { return New(KindInternal, message) }
func Gone(message string) *Error            { return New(KindGone, message) }
func TooManyRequests(message string) *Error { return New(KindTooManyRequests, message) }
func Unavailable(message string) *Error     { return New(KindUnavailable, message) }

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// GetKind extracts the error kind from an error chain.
// Returns KindUnknown if no *Error is present.
func GetKind(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
