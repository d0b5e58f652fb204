package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced to callers.
type ErrorCode string

const (
	// CodeBadRequest indicates malformed caller input.
	CodeBadRequest ErrorCode = "BAD_REQUEST"

	// CodeNotFound indicates a missing bundle, entity, or type.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeValidation indicates a schema or lint failure blocking commit.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeReference indicates a dangling or type-mismatched reference blocking commit.
	CodeReference ErrorCode = "REFERENCE_ERROR"

	// CodeDeleteBlocked indicates a deletion would orphan dependents.
	CodeDeleteBlocked ErrorCode = "DELETE_BLOCKED"

	// CodeDirtyState indicates the working tree precondition was violated.
	CodeDirtyState ErrorCode = "DIRTY_STATE"

	// CodeInternal indicates an unexpected I/O or subprocess failure.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error is the structured failure returned by engine operations.
//
// Every Error carries enough detail (entity, field, diagnostics) to be
// rendered without re-deriving context.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Ref identifies the affected entity, if any.
	Ref *EntityRef `json:"ref,omitempty"`

	// Field is the affected field path, if any.
	Field string `json:"field,omitempty"`

	// Diagnostics holds the findings that caused a validation failure.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Ref != nil {
		msg = fmt.Sprintf("%s (%s", msg, e.Ref)
		if e.Field != "" {
			msg += " " + e.Field
		}
		msg += ")"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error around a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithRef sets the affected entity and returns e.
func (e *Error) WithRef(ref EntityRef, field string) *Error {
	e.Ref = &ref
	e.Field = field
	return e
}

// CodeOf extracts the error code. Unknown errors are INTERNAL; nil is "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Recoverable reports whether the failure left persisted state untouched and
// can be retried with a corrected request.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeInternal, "":
		return false
	default:
		return true
	}
}
