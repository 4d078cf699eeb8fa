// Package errors provides the coded application error shared by repositories,
// services and transport handlers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an AppError for transport mapping.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInternal     ErrorCode = "INTERNAL"

	// Approval domain codes. These carry user-actionable messages.
	ErrCodeNotAuthenticated       ErrorCode = "NOT_AUTHENTICATED"
	ErrCodeNoOrganizationSelected ErrorCode = "NO_ORGANIZATION_SELECTED"
	ErrCodeNoManagerAssigned      ErrorCode = "NO_MANAGER_ASSIGNED"
	ErrCodeNoEligibleApprover     ErrorCode = "NO_ELIGIBLE_APPROVER"
	ErrCodeNoWorkflowFound        ErrorCode = "NO_WORKFLOW_FOUND"
)

// AppError is an error with a stable code and an optional offending field.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping an AppError keeps the inner code so domain errors survive layering.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	var inner *AppError
	if stderrors.As(err, &inner) {
		code = inner.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// InvalidInput reports a validation failure on a request field.
func InvalidInput(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Field:   field,
	}
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// As is re-exported so callers need not import both packages.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
