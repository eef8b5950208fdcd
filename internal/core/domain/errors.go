package domain

import "errors"

var (
	ErrSessionExists     = errors.New("session already registered")
	ErrCapacityReached   = errors.New("session capacity reached")
	ErrSessionNotFound   = errors.New("session not found")
	ErrViewerNotFound    = errors.New("viewer not found")
	ErrViewerClosed      = errors.New("viewer closed")
	ErrInvalidTransition = errors.New("invalid loading stage transition")
	ErrRetriesExhausted  = errors.New("auto retries exhausted")
	ErrInvalidErrorType  = errors.New("invalid error type")
)

// TypedError carries a caller-classified ErrorType alongside the cause so
// the retry controller can pick the matching backoff without inspecting
// player internals.
type TypedError struct {
	Type  ErrorType
	Cause error
}

func (e *TypedError) Error() string {
	if e.Cause != nil {
		return string(e.Type) + ": " + e.Cause.Error()
	}
	return string(e.Type)
}

func (e *TypedError) Unwrap() error { return e.Cause }

// NewTypedError wraps err with an error-type classification.
func NewTypedError(t ErrorType, err error) *TypedError {
	return &TypedError{Type: t, Cause: err}
}

// ClassifyError extracts the ErrorType from err, defaulting to unknown.
func ClassifyError(err error) ErrorType {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Type
	}
	return ErrorUnknown
}
