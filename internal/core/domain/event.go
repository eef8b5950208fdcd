package domain

import "time"

// EventType identifies a session-lifecycle event published to observers.
type EventType string

const (
	EventViewerOpened          EventType = "viewer.opened"
	EventViewerClosed          EventType = "viewer.closed"
	EventSessionAdmitted       EventType = "session.admitted"
	EventSessionRejected       EventType = "session.rejected"
	EventSessionPlaying        EventType = "session.playing"
	EventSessionRemoved        EventType = "session.removed"
	EventSessionError          EventType = "session.error"
	EventSessionTimeout        EventType = "session.timeout"
	EventRetryScheduled        EventType = "session.retry_scheduled"
	EventRetriesExhausted      EventType = "session.retries_exhausted"
	EventTroubleshootSuggested EventType = "session.troubleshoot_suggested"
	EventSessionStats          EventType = "session.stats"
	EventNetworkRestored       EventType = "network.restored"
)

// Event is one lifecycle occurrence, fanned out to the UI feed and, when
// enabled, to the cross-instance bus.
type Event struct {
	Type       EventType      `json:"type"`
	ViewerID   ViewerID       `json:"viewer_id,omitempty"`
	SessionID  SessionID      `json:"session_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	ErrorType  ErrorType      `json:"error_type,omitempty"`
	Attempt    int            `json:"attempt,omitempty"`
	Delay      time.Duration  `json:"delay,omitempty"`
	Stats      *PlaybackStats `json:"stats,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
