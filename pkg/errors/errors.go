// Package errors defines the application error envelope exposed by the
// control-plane API.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"viewmux/internal/core/domain"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeCapacity     ErrorCode = "CAPACITY_REACHED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError is an application error with a code, an HTTP status and a cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New creates an application error.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches an application error envelope to err.
func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

// GetAppError extracts an AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps core domain errors to the HTTP envelope.
func FromDomain(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrViewerNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return Wrap(err, ErrCodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrSessionExists):
		return Wrap(err, ErrCodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrCapacityReached):
		return Wrap(err, ErrCodeCapacity, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidErrorType):
		return Wrap(err, ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrViewerClosed):
		return Wrap(err, ErrCodeConflict, err.Error(), http.StatusGone)
	default:
		return Wrap(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
