// Package apperr classifies errors into the categories surfaced at the API
// boundary. Services wrap low-level failures into a kind; handlers map the
// kind to an HTTP status without inspecting error strings.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the error category. LockContention is internal-only: matching
// retries it within its budget and never surfaces it directly.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindLockContention
	KindTimeout
	KindUnavailable
)

// Error carries a kind, a machine-readable code, and a human message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ─── Constructors ───────────────────────────────────────────

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func LockContention(code, msg string) *Error {
	return &Error{Kind: KindLockContention, Code: code, Message: msg}
}

func Timeout(code, msg string) *Error {
	return &Error{Kind: KindTimeout, Code: code, Message: msg}
}

func Unavailable(code, msg string) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: msg}
}

// Wrap attaches an underlying cause to e without changing its kind or code.
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

// ─── Classification ─────────────────────────────────────────

// KindOf extracts the category from any error. Context deadline errors are
// classified as timeouts so every call site with a deadline gets the right
// category without wrapping each failure by hand.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code, or "internal_error" for
// unclassified errors.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal_error"
}

// HTTPStatus maps a kind to the boundary status codes:
// validation 400, unauthorized 401, not_found 404, conflict 409,
// timeout 504, unavailable 503. Anything else is a 500.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindLockContention:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
