package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"
	"viewmux/pkg/queue"
	"viewmux/pkg/tracing"

	"go.uber.org/zap"
)

// StreamSettings carries the lifecycle tunables shared by all viewers.
type StreamSettings struct {
	StaggerDelay       time.Duration
	InitTaskDelay      time.Duration
	Retry              RetryConfig
	StageTimeoutLow    time.Duration
	StageTimeout       time.Duration
	FailureThreshold   int
	TroubleshootPolicy TroubleshootPolicy
	Overrides          LimitOverrides
}

// DefaultStreamSettings returns production defaults.
func DefaultStreamSettings() StreamSettings {
	return StreamSettings{
		StaggerDelay:       250 * time.Millisecond,
		InitTaskDelay:      300 * time.Millisecond,
		Retry:              DefaultRetryConfig(),
		StageTimeoutLow:    15 * time.Second,
		StageTimeout:       10 * time.Second,
		FailureThreshold:   3,
		TroubleshootPolicy: TroubleshootEvery,
	}
}

// Orchestrator owns one viewer's session set: an explicitly constructed
// registry and init queue sized from the device classification, plus a
// watchdog and retry controller per session. There is no shared global
// queue; every orchestrator carries its own.
type Orchestrator struct {
	id       domain.ViewerID
	caps     domain.DeviceCapabilities
	limits   Limits
	settings StreamSettings

	registry *MultiViewManager
	queue    *queue.Queue[domain.PlayerHandle]

	factory      ports.PlayerFactory
	connectivity ports.ConnectivityNotifier
	events       ports.EventPublisher
	metrics      ports.MetricsRecorder
	logger       *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	watchdogs map[domain.SessionID]*LoadingWatchdog
	retries   map[domain.SessionID]*RetryController
	inits     map[domain.SessionID]ports.InitFunc
	unsubs    map[domain.SessionID][]func()
}

// NewOrchestrator builds a viewer orchestrator from a device
// classification. events, metrics, factory and connectivity may be nil
// when the corresponding integration is not wired.
func NewOrchestrator(
	id domain.ViewerID,
	caps domain.DeviceCapabilities,
	settings StreamSettings,
	factory ports.PlayerFactory,
	connectivity ports.ConnectivityNotifier,
	events ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Orchestrator {
	limits := LimitsFor(caps.Tier).Apply(settings.Overrides)
	q := queue.New[domain.PlayerHandle](limits.InitConcurrency, settings.InitTaskDelay)
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		id:           id,
		caps:         caps,
		limits:       limits,
		settings:     settings,
		registry:     NewMultiViewManager(limits.LiveSessions, q, logger),
		queue:        q,
		factory:      factory,
		connectivity: connectivity,
		events:       events,
		metrics:      metrics,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		watchdogs:    make(map[domain.SessionID]*LoadingWatchdog),
		retries:      make(map[domain.SessionID]*RetryController),
		inits:        make(map[domain.SessionID]ports.InitFunc),
		unsubs:       make(map[domain.SessionID][]func()),
	}
}

// Capabilities returns the viewer's device classification.
func (o *Orchestrator) Capabilities() domain.DeviceCapabilities { return o.caps }

// Limits returns the derived admission budgets.
func (o *Orchestrator) Limits() Limits { return o.limits }

// Registry exposes the session registry observers.
func (o *Orchestrator) Registry() *MultiViewManager { return o.registry }

// QueueDepth reports pending initializations.
func (o *Orchestrator) QueueDepth() int { return o.queue.Len() }

// Admit registers one session and starts its initialization in the
// background. init may be nil when a PlayerFactory is configured.
func (o *Orchestrator) Admit(req domain.StreamRequest, init ports.InitFunc) (*domain.Session, error) {
	session, err := o.register(req, init)
	if err != nil {
		return nil, err
	}
	go o.initSession(session.ID)
	return session, nil
}

// AdmitAll registers the requested sessions in order and staggers each
// one's initialization by index*StaggerDelay so they do not all hit the
// CPU and network at t=0. The stagger clock starts at submission; a slow
// predecessor consumes a queue slot but never delays successors' timers.
// Returns admitted sessions plus per-id rejections.
func (o *Orchestrator) AdmitAll(reqs []domain.StreamRequest) ([]*domain.Session, map[domain.SessionID]error) {
	admitted := make([]*domain.Session, 0, len(reqs))
	rejected := make(map[domain.SessionID]error)

	for i, req := range reqs {
		session, err := o.register(req, nil)
		if err != nil {
			rejected[req.ID] = err
			o.recordRejection(err)
			o.publish(domain.Event{Type: domain.EventSessionRejected, SessionID: req.ID})
			continue
		}
		admitted = append(admitted, session)

		delay := time.Duration(i) * o.settings.StaggerDelay
		go func(id domain.SessionID, delay time.Duration) {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-o.ctx.Done():
					return
				case <-timer.C:
				}
			}
			o.initSession(id)
		}(session.ID, delay)
	}
	return admitted, rejected
}

// register admits a session into the registry and wires its watchdog and
// retry controller.
func (o *Orchestrator) register(req domain.StreamRequest, init ports.InitFunc) (*domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, domain.ErrViewerClosed
	}
	if _, exists := o.registry.Get(req.ID); exists {
		return nil, domain.ErrSessionExists
	}
	if o.registry.AtCapacity() {
		return nil, domain.ErrCapacityReached
	}

	session := &domain.Session{
		ID:        req.ID,
		ViewerID:  o.id,
		Payload:   req.Payload,
		Status:    domain.StatusInitializing,
		Stage:     domain.StageConnecting,
		CreatedAt: time.Now(),
	}
	if !o.registry.Add(session) {
		return nil, domain.ErrCapacityReached
	}

	if init == nil {
		init = o.factoryInit(req)
	}
	o.inits[req.ID] = init

	wd := NewLoadingWatchdog(WatchdogConfig{
		Budget:           StageBudget(o.caps.Tier, o.settings.StageTimeoutLow, o.settings.StageTimeout),
		FailureThreshold: o.settings.FailureThreshold,
		Policy:           o.settings.TroubleshootPolicy,
	})
	rc := NewRetryController(o.settings.Retry, o.connectivity, o.logger)

	unsubWd := wd.Subscribe(func(evt WatchdogEvent) { o.onWatchdogEvent(session.ID, evt) })
	unsubRc := rc.Subscribe(func(evt RetryEvent) { o.onRetryEvent(session.ID, evt) })

	o.watchdogs[req.ID] = wd
	o.retries[req.ID] = rc
	o.unsubs[req.ID] = []func(){unsubWd, unsubRc}

	wd.Begin()

	o.publish(domain.Event{Type: domain.EventSessionAdmitted, SessionID: req.ID})
	if o.metrics != nil {
		o.metrics.SessionAdmitted(o.id)
		o.metrics.SetActiveSessions(o.id, o.registry.Count())
	}

	// The registry owns the live record; callers get a copy.
	snapshot := *session
	return &snapshot, nil
}

func (o *Orchestrator) factoryInit(req domain.StreamRequest) ports.InitFunc {
	return func(ctx context.Context) (domain.PlayerHandle, error) {
		if o.factory == nil {
			return nil, errors.New("no player factory configured")
		}
		return o.factory.NewPlayer(ctx, req.ID, req.Payload)
	}
}

// initSession pushes the session's init through the bounded queue and
// routes a failure into the retry controller.
func (o *Orchestrator) initSession(id domain.SessionID) {
	o.mu.Lock()
	init, ok := o.inits[id]
	o.mu.Unlock()
	if !ok || o.ctx.Err() != nil {
		return
	}

	ctx, span := tracing.TraceSessionInit(o.ctx, string(o.id), string(id))
	defer span.End()

	start := time.Now()
	player, err := o.queue.Enqueue(ctx, string(id), init)
	if o.metrics != nil {
		o.metrics.InitFinished(time.Since(start).Seconds(), err == nil)
		o.metrics.SetQueueDepth(o.id, o.queue.Len())
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, queue.ErrCancelled) || errors.Is(err, context.Canceled) {
			return
		}
		o.failSession(id, domain.ClassifyError(err))
		return
	}

	if !o.registry.AttachPlayer(id, player) {
		// Removed or cleaned up while the init was in flight; the handle
		// is ours to release.
		_ = player.Destroy()
	}
}

// ReportStage advances a session's loading stage from a client report.
// Reaching playing resets the retry budget and consecutive failures.
func (o *Orchestrator) ReportStage(id domain.SessionID, stage domain.LoadStage) error {
	o.mu.Lock()
	wd, ok := o.watchdogs[id]
	rc := o.retries[id]
	o.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	if err := wd.Advance(stage); err != nil {
		return err
	}

	o.registry.Update(id, func(s *domain.Session) {
		s.Stage = stage
		if stage == domain.StagePlaying {
			s.Status = domain.StatusPlaying
			s.ConsecutiveFailures = 0
		}
	})

	if stage == domain.StagePlaying {
		rc.Reset()
		o.publish(domain.Event{Type: domain.EventSessionPlaying, SessionID: id, Stage: stage.String()})
	}
	return nil
}

// ReportError routes a caller-classified playback failure through the
// session's retry controller and returns the decision.
func (o *Orchestrator) ReportError(id domain.SessionID, errType domain.ErrorType) (domain.RetryDecision, error) {
	switch errType {
	case domain.ErrorNetwork, domain.ErrorServer, domain.ErrorTimeout, domain.ErrorMedia, domain.ErrorUnknown:
	default:
		return domain.RetryDecision{}, domain.ErrInvalidErrorType
	}

	o.mu.Lock()
	_, ok := o.retries[id]
	o.mu.Unlock()
	if !ok {
		return domain.RetryDecision{}, domain.ErrSessionNotFound
	}
	return o.failSession(id, errType), nil
}

// failSession marks the session failed and asks the retry controller for
// the next move. The retry callback re-enters the init queue.
func (o *Orchestrator) failSession(id domain.SessionID, errType domain.ErrorType) domain.RetryDecision {
	o.mu.Lock()
	wd := o.watchdogs[id]
	rc := o.retries[id]
	o.mu.Unlock()
	if rc == nil {
		return domain.RetryDecision{Action: domain.ActionManualRetryRequired, ErrorType: errType}
	}

	o.registry.Update(id, func(s *domain.Session) {
		s.Status = domain.StatusError
		s.LastErrorType = errType
	})
	if wd != nil && !wd.Stage().Terminal() {
		_ = wd.Advance(domain.StageError)
		o.registry.Update(id, func(s *domain.Session) { s.Stage = domain.StageError })
	}

	o.publish(domain.Event{Type: domain.EventSessionError, SessionID: id, ErrorType: errType})

	decision := rc.HandleError(errType, func() { o.retrySession(id) })
	if decision.Action == domain.ActionAutoRetry {
		o.registry.Update(id, func(s *domain.Session) { s.AutoRetryCount = decision.Attempt })
	}
	return decision
}

// retrySession is the retry controller's callback: back to connecting,
// then through the queue again.
func (o *Orchestrator) retrySession(id domain.SessionID) {
	o.mu.Lock()
	wd, ok := o.watchdogs[id]
	closed := o.closed
	o.mu.Unlock()
	if !ok || closed {
		return
	}

	if !o.registry.Update(id, func(s *domain.Session) { s.Status = domain.StatusInitializing }) {
		return
	}
	if err := wd.Advance(domain.StageConnecting); err == nil {
		o.registry.Update(id, func(s *domain.Session) { s.Stage = domain.StageConnecting })
	}
	o.initSession(id)
}

// ManualRetry restarts a session after auto-retry exhaustion.
func (o *Orchestrator) ManualRetry(id domain.SessionID) error {
	o.mu.Lock()
	rc, ok := o.retries[id]
	o.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	rc.Reset()
	o.retrySession(id)
	return nil
}

// Remove releases one session's resources synchronously and tears down
// its controllers.
func (o *Orchestrator) Remove(id domain.SessionID) bool {
	o.teardownControllers(id)
	removed := o.registry.Remove(id)
	if removed {
		o.publish(domain.Event{Type: domain.EventSessionRemoved, SessionID: id})
		if o.metrics != nil {
			o.metrics.SessionRemoved(o.id)
			o.metrics.SetActiveSessions(o.id, o.registry.Count())
		}
	}
	return removed
}

// Close tears the whole viewer down: queued inits cancelled, every
// admitted session's resources released synchronously, all controllers
// destroyed. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	ids := make([]domain.SessionID, 0, len(o.watchdogs))
	for id := range o.watchdogs {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	o.cancel()
	for _, id := range ids {
		o.teardownControllers(id)
	}
	o.registry.Cleanup()

	if o.metrics != nil {
		o.metrics.SetActiveSessions(o.id, 0)
		o.metrics.SetQueueDepth(o.id, 0)
	}
}

// Status snapshots the viewer.
func (o *Orchestrator) Status() *domain.ViewerStatus {
	return &domain.ViewerStatus{
		ViewerID:     o.id,
		Capabilities: o.caps,
		LiveLimit:    o.limits.LiveSessions,
		InitLimit:    o.limits.InitConcurrency,
		Count:        o.registry.Count(),
		AtCapacity:   o.registry.AtCapacity(),
		QueueDepth:   o.queue.Len(),
		Sessions:     o.registry.ActiveSessions(),
	}
}

func (o *Orchestrator) teardownControllers(id domain.SessionID) {
	o.mu.Lock()
	wd := o.watchdogs[id]
	rc := o.retries[id]
	unsubs := o.unsubs[id]
	delete(o.watchdogs, id)
	delete(o.retries, id)
	delete(o.inits, id)
	delete(o.unsubs, id)
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if wd != nil {
		wd.Destroy()
	}
	if rc != nil {
		rc.Destroy()
	}
}

func (o *Orchestrator) onWatchdogEvent(id domain.SessionID, evt WatchdogEvent) {
	switch evt.Kind {
	case WatchdogTimeout:
		o.registry.Update(id, func(s *domain.Session) {
			s.ConsecutiveFailures = evt.Failures
			s.Stage = domain.StageTimeout
		})
		if o.metrics != nil {
			o.metrics.StageTimeout()
		}
		o.publish(domain.Event{
			Type:      domain.EventSessionTimeout,
			SessionID: id,
			Stage:     evt.Stage.String(),
			ErrorType: domain.ErrorTimeout,
		})
	case WatchdogSuggestTroubleshooting:
		o.publish(domain.Event{
			Type:      domain.EventTroubleshootSuggested,
			SessionID: id,
			Attempt:   evt.Failures,
		})
	}
}

func (o *Orchestrator) onRetryEvent(id domain.SessionID, evt RetryEvent) {
	switch evt.Kind {
	case RetryScheduled:
		if o.metrics != nil {
			o.metrics.RetryScheduled(evt.ErrorType)
		}
		o.publish(domain.Event{
			Type:      domain.EventRetryScheduled,
			SessionID: id,
			ErrorType: evt.ErrorType,
			Attempt:   evt.Attempt,
			Delay:     evt.Delay,
		})
	case RetryExhausted:
		if o.metrics != nil {
			o.metrics.RetriesExhausted(evt.ErrorType)
		}
		o.publish(domain.Event{
			Type:      domain.EventRetriesExhausted,
			SessionID: id,
			ErrorType: evt.ErrorType,
			Attempt:   evt.TotalAttempts,
		})
	case NetworkRestored:
		o.publish(domain.Event{Type: domain.EventNetworkRestored, SessionID: id})
	}
}

func (o *Orchestrator) recordRejection(err error) {
	if o.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrSessionExists):
		o.metrics.SessionRejected("duplicate")
	case errors.Is(err, domain.ErrCapacityReached):
		o.metrics.SessionRejected("capacity")
	default:
		o.metrics.SessionRejected("other")
	}
}

func (o *Orchestrator) publish(evt domain.Event) {
	if o.events == nil {
		return
	}
	evt.ViewerID = o.id
	evt.Timestamp = time.Now()
	o.events.Publish(o.ctx, evt)
}
