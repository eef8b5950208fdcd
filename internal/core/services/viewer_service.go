package services

import (
	"context"
	"sync"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"
	vlog "viewmux/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ViewerManager tracks one orchestrator per open viewer and implements
// the control-plane surface.
type ViewerManager struct {
	mu      sync.RWMutex
	viewers map[domain.ViewerID]*Orchestrator

	caps         *CapabilityService
	settings     StreamSettings
	factory      ports.PlayerFactory
	connectivity ports.ConnectivityNotifier
	events       ports.EventPublisher
	metrics      ports.MetricsRecorder
	logger       *zap.SugaredLogger
}

var _ ports.ViewerService = (*ViewerManager)(nil)

func NewViewerManager(
	caps *CapabilityService,
	settings StreamSettings,
	factory ports.PlayerFactory,
	connectivity ports.ConnectivityNotifier,
	events ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ViewerManager {
	return &ViewerManager{
		viewers:      make(map[domain.ViewerID]*Orchestrator),
		caps:         caps,
		settings:     settings,
		factory:      factory,
		connectivity: connectivity,
		events:       events,
		metrics:      metrics,
		logger:       logger,
	}
}

// OpenViewer classifies the device and builds a dedicated orchestrator.
func (m *ViewerManager) OpenViewer(ctx context.Context, signals domain.DeviceSignals) (*domain.ViewerStatus, error) {
	caps := m.caps.Classify(signals)
	id := domain.ViewerID(uuid.NewString())

	orch := NewOrchestrator(id, caps, m.settings, m.factory, m.connectivity, m.events, m.metrics, vlog.ForViewer(m.logger, id))

	m.mu.Lock()
	m.viewers[id] = orch
	m.mu.Unlock()

	m.logger.Infow("viewer opened",
		"viewer_id", id,
		"tier", caps.Tier,
		"live_limit", orch.Limits().LiveSessions,
		"init_limit", orch.Limits().InitConcurrency,
	)
	if m.events != nil {
		orch.publish(domain.Event{Type: domain.EventViewerOpened})
	}
	return orch.Status(), nil
}

// CloseViewer tears down the viewer and all its sessions.
func (m *ViewerManager) CloseViewer(id domain.ViewerID) error {
	m.mu.Lock()
	orch, ok := m.viewers[id]
	delete(m.viewers, id)
	m.mu.Unlock()
	if !ok {
		return domain.ErrViewerNotFound
	}

	if m.events != nil {
		orch.publish(domain.Event{Type: domain.EventViewerClosed})
	}
	orch.Close()
	m.logger.Infow("viewer closed", "viewer_id", id)
	return nil
}

// ViewerStatus snapshots one viewer.
func (m *ViewerManager) ViewerStatus(id domain.ViewerID) (*domain.ViewerStatus, error) {
	orch, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return orch.Status(), nil
}

// AdmitStreams bulk-admits with staggered bring-up.
func (m *ViewerManager) AdmitStreams(ctx context.Context, viewerID domain.ViewerID, reqs []domain.StreamRequest) ([]*domain.Session, map[domain.SessionID]error, error) {
	orch, err := m.get(viewerID)
	if err != nil {
		return nil, nil, err
	}
	admitted, rejected := orch.AdmitAll(reqs)
	return admitted, rejected, nil
}

// RemoveStream releases one session.
func (m *ViewerManager) RemoveStream(viewerID domain.ViewerID, sessionID domain.SessionID) error {
	orch, err := m.get(viewerID)
	if err != nil {
		return err
	}
	if !orch.Remove(sessionID) {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ReportStage advances a session's loading stage.
func (m *ViewerManager) ReportStage(viewerID domain.ViewerID, sessionID domain.SessionID, stage domain.LoadStage) error {
	orch, err := m.get(viewerID)
	if err != nil {
		return err
	}
	return orch.ReportStage(sessionID, stage)
}

// ReportError routes a classified failure through the retry controller.
func (m *ViewerManager) ReportError(ctx context.Context, viewerID domain.ViewerID, sessionID domain.SessionID, errType domain.ErrorType) (domain.RetryDecision, error) {
	orch, err := m.get(viewerID)
	if err != nil {
		return domain.RetryDecision{}, err
	}
	return orch.ReportError(sessionID, errType)
}

// ManualRetry restarts a session whose automatic retries are exhausted.
func (m *ViewerManager) ManualRetry(viewerID domain.ViewerID, sessionID domain.SessionID) error {
	orch, err := m.get(viewerID)
	if err != nil {
		return err
	}
	return orch.ManualRetry(sessionID)
}

// Shutdown closes every viewer. Used on server teardown.
func (m *ViewerManager) Shutdown() {
	m.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(m.viewers))
	for _, orch := range m.viewers {
		orchs = append(orchs, orch)
	}
	m.viewers = make(map[domain.ViewerID]*Orchestrator)
	m.mu.Unlock()

	for _, orch := range orchs {
		orch.Close()
	}
	m.caps.Close()
}

func (m *ViewerManager) get(id domain.ViewerID) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orch, ok := m.viewers[id]
	if !ok {
		return nil, domain.ErrViewerNotFound
	}
	return orch, nil
}
