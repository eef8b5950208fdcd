package services

import (
	"sync"

	"viewmux/internal/core/domain"

	"go.uber.org/zap"
)

// canceller is the slice of the init queue the registry needs for cleanup.
type canceller interface {
	Cancel()
}

// MultiViewManager owns the set of currently admitted sessions for one
// viewer and enforces the live-session cap. It is the single source of
// truth for what is live; no other component keeps a duplicate count.
// Session memory is owned here too: readers get value copies and every
// field mutation goes through Update or AttachPlayer under the lock.
type MultiViewManager struct {
	mu       sync.RWMutex
	limit    int
	sessions map[domain.SessionID]*domain.Session
	order    []domain.SessionID
	queue    canceller
	logger   *zap.SugaredLogger
}

// NewMultiViewManager creates a registry with the given live cap. queue
// may be nil; when set, Cleanup cancels its pending work.
func NewMultiViewManager(limit int, queue canceller, logger *zap.SugaredLogger) *MultiViewManager {
	if limit < 1 {
		limit = 1
	}
	return &MultiViewManager{
		limit:    limit,
		sessions: make(map[domain.SessionID]*domain.Session),
		queue:    queue,
		logger:   logger,
	}
}

// CanAdd reports whether a session with this id would be admitted.
func (m *MultiViewManager) CanAdd(id domain.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canAddLocked(id)
}

func (m *MultiViewManager) canAddLocked(id domain.SessionID) bool {
	if _, exists := m.sessions[id]; exists {
		return false
	}
	return len(m.sessions) < m.limit
}

// Add admits the session if its id is free and the live cap allows it.
func (m *MultiViewManager) Add(session *domain.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canAddLocked(session.ID) {
		return false
	}
	m.sessions[session.ID] = session
	m.order = append(m.order, session.ID)
	return true
}

// Remove releases the session's playback resource synchronously and drops
// the record. The id becomes reusable immediately.
func (m *MultiViewManager) Remove(id domain.SessionID) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		m.releaseLocked(session)
		delete(m.sessions, id)
		for i, sid := range m.order {
			if sid == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	return exists
}

// Cleanup removes all sessions, releasing each playback resource, and
// cancels any queued initialization work. Idempotent.
func (m *MultiViewManager) Cleanup() {
	m.mu.Lock()
	for _, session := range m.sessions {
		m.releaseLocked(session)
	}
	m.sessions = make(map[domain.SessionID]*domain.Session)
	m.order = nil
	m.mu.Unlock()

	if m.queue != nil {
		m.queue.Cancel()
	}
}

// ActiveSessions returns value copies of the admitted sessions in
// admission order.
func (m *MultiViewManager) ActiveSessions() []domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.sessions[id])
	}
	return out
}

// Get returns a point-in-time copy of one session.
func (m *MultiViewManager) Get(id domain.SessionID) (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// Update applies fn to the session under the registry lock. Returns
// false when the id is not admitted.
func (m *MultiViewManager) Update(id domain.SessionID, fn func(*domain.Session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// AttachPlayer binds a freshly initialized playback resource to the
// session, atomically with registry membership. Returns false when the
// session was removed while its init was in flight; the caller still
// owns the handle and must release it. A previously attached handle is
// released before being replaced.
func (m *MultiViewManager) AttachPlayer(id domain.SessionID, player domain.PlayerHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	if s.Player != nil && s.Player != player {
		if err := s.Player.Destroy(); err != nil && m.logger != nil {
			m.logger.Warnw("failed to destroy superseded player", "session_id", id, "error", err)
		}
	}
	s.Player = player
	return true
}

// Count returns the number of admitted sessions.
func (m *MultiViewManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AtCapacity reports whether the live cap is reached.
func (m *MultiViewManager) AtCapacity() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) >= m.limit
}

// Limit returns the live-session cap.
func (m *MultiViewManager) Limit() int {
	return m.limit
}

func (m *MultiViewManager) releaseLocked(session *domain.Session) {
	if session.Player != nil {
		if err := session.Player.Destroy(); err != nil && m.logger != nil {
			m.logger.Warnw("failed to destroy player", "session_id", session.ID, "error", err)
		}
		session.Player = nil
	}
	session.Status = domain.StatusDestroyed
}
