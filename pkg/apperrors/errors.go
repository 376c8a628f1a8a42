// Package apperrors defines the typed error taxonomy returned by the
// authorization core. Route handlers translate these into HTTP status codes
// with HTTPStatus; the core itself never speaks HTTP.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation"
	KindInsufficientRole Kind = "insufficient_role"
	KindConflict         Kind = "conflict"
	KindInternal         Kind = "internal"
)

// Error is the concrete error type for every failure the core surfaces
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "permissions.Grant"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindNotFound}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a missing or invalid caller identity
func Unauthorized(op, format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, op, format, args...)
}

// Forbidden reports a known identity lacking membership, role or permission
func Forbidden(op, format string, args ...interface{}) *Error {
	return newError(KindForbidden, op, format, args...)
}

// NotFound reports an absent user, account, project or membership
func NotFound(op, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, format, args...)
}

// Validation reports malformed input such as a bad tenant id or permission level
func Validation(op, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, format, args...)
}

// InsufficientRole reports a role check or role-change authorization failure
func InsufficientRole(op, format string, args ...interface{}) *Error {
	return newError(KindInsufficientRole, op, format, args...)
}

// Conflict reports a uniqueness violation
func Conflict(op, format string, args ...interface{}) *Error {
	return newError(KindConflict, op, format, args...)
}

// Internal wraps a store or infrastructure failure
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
// for foreign errors
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsForbidden is true for forbidden and insufficient_role errors
func IsForbidden(err error) bool {
	k := KindOf(err)
	return k == KindForbidden || k == KindInsufficientRole
}

// IsNotFound reports whether err is a not_found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// HTTPStatus maps an error to the status code handlers should respond with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindInsufficientRole:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to API clients. Internal
// errors never expose the wrapped driver error.
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Kind == KindInternal {
		return "internal server error"
	}
	if appErr.Message != "" {
		return appErr.Message
	}
	return string(appErr.Kind)
}
