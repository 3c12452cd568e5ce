package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches sentinel errors by code and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError reports field-level problems with a request.
func ValidationError(fields map[string]string) *Error {
	return &Error{Code: ErrCodeInvalid, Message: "validation failed", Fields: fields}
}

// Common domain errors.
var (
	ErrTaskNotFound    = NewError(ErrCodeNotFound, "task not found")
	ErrUserNotFound    = NewError(ErrCodeNotFound, "user not found")
	ErrRoleNotFound    = NewError(ErrCodeNotFound, "role not found")
	ErrForbidden       = NewError(ErrCodeForbidden, "you do not have permission to perform this action")
	ErrUnauthorized    = NewError(ErrCodeUnauthorized, "authentication credentials were not provided or are invalid")
	ErrUserExists      = NewError(ErrCodeConflict, "user already exists")
	ErrRoleExists      = NewError(ErrCodeConflict, "role already exists")
	ErrRoleInUse       = NewError(ErrCodeConflict, "role is held by users; reassign them first")
	ErrRoleBuiltIn     = NewError(ErrCodeConflict, "built-in roles cannot be renamed or deleted")
	ErrInvalidPayload  = NewError(ErrCodeInvalid, "invalid payload")
	ErrExportsDisabled = NewError(ErrCodeUnavailable, "task exports are not configured")
)

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}
