package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed error carrying a stable code and an HTTP status for the status API.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones and wraps of a sentinel compare equal.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrUnavailable  = New("UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")

	// Portal faults. Transient faults are absorbed at the cycle boundary,
	// the other two end the run.
	ErrPortalTransient    = New("PORTAL_TRANSIENT", http.StatusServiceUnavailable, "portal temporarily unavailable")
	ErrAuthLost           = New("AUTH_LOST", http.StatusUnauthorized, "portal session lost")
	ErrPortalUnrecognized = New("PORTAL_UNRECOGNIZED", http.StatusBadGateway, "portal structure unrecognized")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Transient wraps cause as a transient portal fault.
func Transient(cause error, message string) *Error {
	return Wrap(cause, ErrPortalTransient.Code, ErrPortalTransient.Status, message)
}

// IsTransient reports whether err is a transient portal fault.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPortalTransient)
}

// IsIrrecoverable reports whether err must end a run instead of being retried on the next cycle.
func IsIrrecoverable(err error) bool {
	return errors.Is(err, ErrAuthLost) || errors.Is(err, ErrPortalUnrecognized)
}
