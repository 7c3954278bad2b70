// Package errors provides typed application errors with machine-readable
// codes, shared across the repository, service and handler layers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies the class of an application error.
type Code string

const (
	ErrCodeNotFound      Code = "NOT_FOUND"
	ErrCodeUnauthorized  Code = "UNAUTHORIZED"
	ErrCodeConflict      Code = "CONFLICT"
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeConfiguration Code = "CONFIGURATION_ERROR"
	ErrCodeInternal      Code = "INTERNAL"
)

// Error is an application error carrying a code and an optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an application error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an application error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving it as the cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// Forbidden reports that the caller is not authorized for the operation.
func Forbidden(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "invalid %s: %s", field, message)
}

// Configuration reports a routing/data configuration problem that needs
// operator attention.
func Configuration(message string) *Error {
	return New(ErrCodeConfiguration, message)
}

// CodeOf extracts the application code from err, or ErrCodeInternal when err
// is not an application error.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error to the HTTP status the handler layer should emit.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
