// Package apperrors provides the coded error type passed between the
// service, repository, and handler layers. Codes map onto HTTP statuses at
// the edge; everything is a plain returned value, nothing is panicked or
// retried internally.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and caller branching.
type Code string

const (
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeValidation        Code = "VALIDATION_FAILED"
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeAlreadyTerminal   Code = "ALREADY_TERMINAL"
	ErrCodeInvalidRange      Code = "INVALID_RANGE"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded application error. Fields carries per-field validation
// detail when Code is VALIDATION_FAILED.
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// InvalidInput reports a single malformed field.
func InvalidInput(field, reason string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, reason),
		Fields:  map[string]string{field: reason},
	}
}

// Validation reports a collected set of field violations as one error, so
// the caller can surface every problem at once.
func Validation(fields map[string]string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: "one or more fields are invalid",
		Fields:  fields,
	}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// CodeOf extracts the code from err, or INTERNAL for uncoded errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code to the status the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput, ErrCodeValidation, ErrCodeInvalidRange:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeInvalidTransition, ErrCodeAlreadyTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
