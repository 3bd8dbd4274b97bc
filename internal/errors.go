// Package internal provides the implementation for the settings package.
package internal

import (
	"errors"
	"fmt"
)

// Code classifies a settings error.
type Code string

const (
	// CodeRegistration marks invalid or conflicting section declarations.
	CodeRegistration Code = "REGISTRATION"
	// CodeValidation marks raw data that fails a declared section shape.
	CodeValidation Code = "VALIDATION"
	// CodeResolve marks a query that cannot be answered and has no default.
	CodeResolve Code = "RESOLVE"
	// CodeConflict marks re-initialization with a different resolved source.
	CodeConflict Code = "CONFLICT"
)

// Error is a structured settings error with a classification code.
type Error struct {
	Code Code   // Error classification code
	Op   string // Operation that failed
	Msg  string // Human-readable message
	Err  error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error with the given code and message.
func NewError(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Errorf creates a new structured error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with a code and operation name.
func WrapError(code Code, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the classification code from an error.
// Returns empty string if the error carries no code.
func CodeOf(err error) Code {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether an error has a specific classification code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
