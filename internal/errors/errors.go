// Package errors provides standardized domain errors with codes for the Fableseek API.
//
// Usage:
//
//	// In services - return typed errors
//	if req == nil {
//	    return errors.NotFoundf("request %s not found", id)
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrNotFound) {
//	    response.NotFound(w, err.Error(), logger)
//	    return
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeValidation Code = "VALIDATION"
	CodeForbidden  Code = "FORBIDDEN"
	CodeInternal   Code = "INTERNAL"

	// Fulfillment failure codes.
	CodeIndexerUnavailable Code = "INDEXER_UNAVAILABLE"
	CodeNoCandidatesFound  Code = "NO_CANDIDATES_FOUND"
	CodeBackendAddFailed   Code = "BACKEND_ADD_FAILED"
	CodeDownloadTimeout    Code = "DOWNLOAD_TIMEOUT"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound, CodeNoCandidatesFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeIndexerUnavailable, CodeBackendAddFailed:
		return http.StatusBadGateway
	case CodeDownloadTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional wrapped cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// Details carries per-field validation messages.
	Details map[string]string `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrIndexerUnavailable = &Error{Code: CodeIndexerUnavailable, Message: "indexer aggregation unavailable"}
	ErrNoCandidatesFound  = &Error{Code: CodeNoCandidatesFound, Message: "no candidates found"}
	ErrBackendAddFailed   = &Error{Code: CodeBackendAddFailed, Message: "backend add failed"}
	ErrDownloadTimeout    = &Error{Code: CodeDownloadTimeout, Message: "download timed out"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error carrying per-field messages.
func ValidationWithDetails(msg string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// IndexerUnavailable creates an indexer unavailable error wrapping the cause.
func IndexerUnavailable(err error) *Error {
	return &Error{Code: CodeIndexerUnavailable, Message: "indexer aggregation unavailable", cause: err}
}

// BackendAddFailed creates a backend add failure wrapping the cause.
func BackendAddFailed(err error) *Error {
	return &Error{Code: CodeBackendAddFailed, Message: "backend add failed", cause: err}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
