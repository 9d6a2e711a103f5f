package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeTransient    ErrCode = "TRANSIENT"
	ErrCodeRateLimited  ErrCode = "RATE_LIMITED"
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeBadRequest   ErrCode = "BAD_REQUEST"
	ErrCodeFatal        ErrCode = "FATAL"
	ErrCodeCanceled     ErrCode = "CANCELED"
	ErrCodeInternal     ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewTransientError creates an error for network failures, malformed payloads and 5xx responses
func NewTransientError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTransient,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewFatalError creates an error that aborts one collector run for one repository
func NewFatalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeFatal,
		Message: message,
		Err:     err,
	}
}

// NewCanceledError creates an error for work abandoned because its context ended
func NewCanceledError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeCanceled,
		Message: "canceled",
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrCodeInternal
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether a failed job should be queued again.
// Untyped errors count as internal and are retried until the attempt budget runs out.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeTransient, ErrCodeRateLimited, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeRateLimited
}

// IsFatal checks if the error aborted a collector run
func IsFatal(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeFatal
}
