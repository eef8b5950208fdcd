package domain

import (
	"time"
)

type ViewerID string
type SessionID string
type UserID string

type SessionStatus string

const (
	StatusIdle         SessionStatus = "idle"
	StatusInitializing SessionStatus = "initializing"
	StatusPlaying      SessionStatus = "playing"
	StatusPaused       SessionStatus = "paused"
	StatusError        SessionStatus = "error"
	StatusDestroyed    SessionStatus = "destroyed"
)

// LoadStage is the progressive loading stage of a session. Stages advance
// strictly forward; error and timeout are reachable from any non-terminal
// stage, and an explicit retry returns to StageConnecting.
type LoadStage int

const (
	StageConnecting LoadStage = iota
	StageLoading
	StageBuffering
	StageStarting
	StagePlaying
	StageError
	StageTimeout
)

func (s LoadStage) String() string {
	switch s {
	case StageConnecting:
		return "connecting"
	case StageLoading:
		return "loading"
	case StageBuffering:
		return "buffering"
	case StageStarting:
		return "starting"
	case StagePlaying:
		return "playing"
	case StageError:
		return "error"
	case StageTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stage is one no timeout is armed for.
func (s LoadStage) Terminal() bool {
	return s == StagePlaying || s == StageError || s == StageTimeout
}

// ParseLoadStage maps the wire representation back to a stage.
func ParseLoadStage(v string) (LoadStage, bool) {
	switch v {
	case "connecting":
		return StageConnecting, true
	case "loading":
		return StageLoading, true
	case "buffering":
		return StageBuffering, true
	case "starting":
		return StageStarting, true
	case "playing":
		return StagePlaying, true
	case "error":
		return StageError, true
	case "timeout":
		return StageTimeout, true
	}
	return 0, false
}

// ErrorType is the caller-classified category of a playback failure.
type ErrorType string

const (
	ErrorNetwork ErrorType = "network"
	ErrorServer  ErrorType = "server"
	ErrorTimeout ErrorType = "timeout"
	ErrorMedia   ErrorType = "media"
	ErrorUnknown ErrorType = "unknown"
)

// PlayerHandle is the opaque playback resource attached to a session.
// Destroy must release the underlying player synchronously.
type PlayerHandle interface {
	Destroy() error
}

// Session is one admitted, independently lifecycled streaming attempt.
// The live record is owned exclusively by the session registry, which
// guards all field access; other components hold value copies or
// reference it by ID.
type Session struct {
	ID                  SessionID     `json:"id"`
	ViewerID            ViewerID      `json:"viewer_id"`
	Payload             interface{}   `json:"payload,omitempty"`
	Status              SessionStatus `json:"status"`
	Stage               LoadStage     `json:"stage"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	AutoRetryCount      int           `json:"auto_retry_count"`
	LastErrorType       ErrorType     `json:"last_error_type,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`

	// Player is set once initialization succeeds and released exactly once
	// on removal or cleanup.
	Player PlayerHandle `json:"-"`
}

// StreamRequest asks for one camera stream to be admitted into a viewer.
type StreamRequest struct {
	ID      SessionID   `json:"id"`
	Payload interface{} `json:"payload,omitempty"`
}

// RetryAction is the outcome of routing a failure through the retry
// controller.
type RetryAction string

const (
	ActionAutoRetry           RetryAction = "auto-retry"
	ActionManualRetryRequired RetryAction = "manual-retry-required"
)

// RetryDecision is returned from HandleError so callers can render the
// appropriate affordance.
type RetryDecision struct {
	Action        RetryAction   `json:"action"`
	Attempt       int           `json:"attempt,omitempty"`
	MaxAttempts   int           `json:"max_attempts,omitempty"`
	TotalAttempts int           `json:"total_attempts,omitempty"`
	Delay         time.Duration `json:"delay,omitempty"`
	ErrorType     ErrorType     `json:"error_type"`
}
