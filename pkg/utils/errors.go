// File: pkg/utils/errors.go
package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches any AppError carrying the same code, so errors.Is(err, ErrNotFound) works
// regardless of message and details.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WrapAppError creates an application error that wraps cause
func WrapAppError(code, message string, cause error) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
		cause:   cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// ErrorCode returns the code of the first AppError in err's chain, or ErrCodeInternal
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Common error codes
const (
	ErrCodeConnection       = "CONNECTION_ERROR"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeAuth             = "AUTH_FAILURE"
	ErrCodeChainCall        = "CHAIN_CALL_FAILURE"
	ErrCodeQueueUnavailable = "QUEUE_UNAVAILABLE"
)

// Sentinels for errors.Is checks against the taxonomy
var (
	ErrNotFound         = &AppError{Code: ErrCodeNotFound}
	ErrInvalidState     = &AppError{Code: ErrCodeInvalidState}
	ErrValidation       = &AppError{Code: ErrCodeValidation}
	ErrAuth             = &AppError{Code: ErrCodeAuth}
	ErrChainCall        = &AppError{Code: ErrCodeChainCall}
	ErrQueueUnavailable = &AppError{Code: ErrCodeQueueUnavailable}
)
