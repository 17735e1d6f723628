package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an application error for callers and transports.
type ErrorCode string

const (
	CodeValidation             ErrorCode = "VALIDATION_FAILURE"
	CodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	CodeInsufficientRole       ErrorCode = "INSUFFICIENT_ROLE"
	CodeNotOwner               ErrorCode = "NOT_OWNER"
	CodeNotFound               ErrorCode = "NOT_FOUND"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	CodeCollaboratorFailure    ErrorCode = "COLLABORATOR_FAILURE"
)

// AppError is the error type returned by domain and application code.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewValidationError reports a malformed request or payload.
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewInvalidTransitionError reports a destination that is unreachable from the current state.
func NewInvalidTransitionError(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

// NewWrongStateError reports an action that does not apply in the resource's current state.
func NewWrongStateError(message string) *AppError {
	return &AppError{Code: CodeInvalidTransition, Message: message}
}

// NewForbiddenError reports an authorization denial. code must be CodeInsufficientRole or CodeNotOwner.
func NewForbiddenError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewConflictError reports that another actor modified the resource first.
func NewConflictError(message string) *AppError {
	return &AppError{Code: CodeConcurrentModification, Message: message}
}

// NewCollaboratorError reports a failed call to an external service.
func NewCollaboratorError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeCollaboratorFailure,
		Message: fmt.Sprintf("%s service call failed", service),
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetriable reports whether the caller may retry after re-reading current state.
func IsRetriable(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}
