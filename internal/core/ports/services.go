package ports

import (
	"context"

	"viewmux/internal/core/domain"
)

// InitFunc starts one streaming session and resolves with its playback
// handle. It must observe ctx cooperatively; the queue never interrupts
// in-flight work.
type InitFunc func(ctx context.Context) (domain.PlayerHandle, error)

// PlayerFactory builds the opaque playback resource for a session. The
// core never interprets the payload.
type PlayerFactory interface {
	NewPlayer(ctx context.Context, id domain.SessionID, payload interface{}) (domain.PlayerHandle, error)
}

// SessionRegistry owns the set of currently admitted sessions and is the
// single source of truth for what is live. It also owns the session
// records themselves: readers get value copies, mutation happens inside
// Update, and AttachPlayer is atomic with membership so a handle can
// never be bound to a removed session.
type SessionRegistry interface {
	CanAdd(id domain.SessionID) bool
	Add(session *domain.Session) bool
	Remove(id domain.SessionID) bool
	Cleanup()
	ActiveSessions() []domain.Session
	Update(id domain.SessionID, fn func(*domain.Session)) bool
	AttachPlayer(id domain.SessionID, player domain.PlayerHandle) bool
	Count() int
	AtCapacity() bool
}

// ViewerService is the control-plane surface over per-viewer orchestrators.
type ViewerService interface {
	OpenViewer(ctx context.Context, signals domain.DeviceSignals) (*domain.ViewerStatus, error)
	CloseViewer(id domain.ViewerID) error
	ViewerStatus(id domain.ViewerID) (*domain.ViewerStatus, error)
	AdmitStreams(ctx context.Context, viewerID domain.ViewerID, reqs []domain.StreamRequest) ([]*domain.Session, map[domain.SessionID]error, error)
	RemoveStream(viewerID domain.ViewerID, sessionID domain.SessionID) error
	ReportStage(viewerID domain.ViewerID, sessionID domain.SessionID, stage domain.LoadStage) error
	ReportError(ctx context.Context, viewerID domain.ViewerID, sessionID domain.SessionID, errType domain.ErrorType) (domain.RetryDecision, error)
	ManualRetry(viewerID domain.ViewerID, sessionID domain.SessionID) error
}

// ConnectivityNotifier pushes offline-to-online transitions so callers
// never have to poll for network restoration.
type ConnectivityNotifier interface {
	Online() bool
	Subscribe(fn func()) (unsubscribe func())
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// MetricsRecorder receives lifecycle measurements for export.
type MetricsRecorder interface {
	SessionAdmitted(viewerID domain.ViewerID)
	SessionRejected(reason string)
	SessionRemoved(viewerID domain.ViewerID)
	SetActiveSessions(viewerID domain.ViewerID, n int)
	SetQueueDepth(viewerID domain.ViewerID, n int)
	InitFinished(seconds float64, success bool)
	RetryScheduled(errType domain.ErrorType)
	RetriesExhausted(errType domain.ErrorType)
	StageTimeout()
}
