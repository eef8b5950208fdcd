package services

import (
	"sync"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"

	"go.uber.org/zap"
)

// RetryConfig tunes one session's automatic recovery.
type RetryConfig struct {
	MaxAutoRetries    int
	NetworkRetryDelay time.Duration
	ServerRetryDelay  time.Duration
	DefaultRetryDelay time.Duration
}

// DefaultRetryConfig mirrors production defaults: three automatic
// attempts, 3s for network-class errors, 5s for server errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAutoRetries:    3,
		NetworkRetryDelay: 3 * time.Second,
		ServerRetryDelay:  5 * time.Second,
		DefaultRetryDelay: 3 * time.Second,
	}
}

// RetryEventKind discriminates retry controller notifications.
type RetryEventKind int

const (
	RetryScheduled RetryEventKind = iota
	RetryExhausted
	ManualRetryRequired
	NetworkRestored
)

// RetryEvent is pushed to retry controller listeners.
type RetryEvent struct {
	Kind          RetryEventKind
	Attempt       int
	MaxAttempts   int
	TotalAttempts int
	Delay         time.Duration
	ErrorType     domain.ErrorType
}

// RetryController orchestrates bounded automatic retry with
// error-type-dependent backoff for one session. The pending retry timer
// has a single owner: this controller stores the handle and is the only
// entity permitted to clear it, so a retry firing after Reset or Destroy
// is actually cancelled, not merely ignored.
type RetryController struct {
	mu  sync.Mutex
	cfg RetryConfig

	attempt   int
	lastType  domain.ErrorType
	timer     *time.Timer
	gen       uint64
	destroyed bool

	connectivity ports.ConnectivityNotifier
	unsubNet     func()

	listeners map[int]func(RetryEvent)
	nextID    int

	deliveries []retryDelivery
	delivering bool

	logger *zap.SugaredLogger
}

// retryDelivery is one queued notification with the listener set
// snapshotted at emit time.
type retryDelivery struct {
	evt RetryEvent
	fns []func(RetryEvent)
}

// NewRetryController creates a controller. connectivity may be nil; it is
// only consulted after a network-type exhaustion.
func NewRetryController(cfg RetryConfig, connectivity ports.ConnectivityNotifier, logger *zap.SugaredLogger) *RetryController {
	if cfg.MaxAutoRetries <= 0 {
		cfg.MaxAutoRetries = 3
	}
	if cfg.NetworkRetryDelay <= 0 {
		cfg.NetworkRetryDelay = 3 * time.Second
	}
	if cfg.ServerRetryDelay <= 0 {
		cfg.ServerRetryDelay = 5 * time.Second
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = 3 * time.Second
	}
	return &RetryController{
		cfg:          cfg,
		connectivity: connectivity,
		listeners:    make(map[int]func(RetryEvent)),
		logger:       logger,
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (c *RetryController) Subscribe(fn func(RetryEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// RetryDelay maps an error type to its backoff. Media and timeout errors
// share the network delay; anything unrecognized gets the default.
func (c *RetryController) RetryDelay(t domain.ErrorType) time.Duration {
	switch t {
	case domain.ErrorNetwork, domain.ErrorTimeout, domain.ErrorMedia:
		return c.cfg.NetworkRetryDelay
	case domain.ErrorServer:
		return c.cfg.ServerRetryDelay
	default:
		return c.cfg.DefaultRetryDelay
	}
}

// ShouldAutoRetry reports whether another automatic attempt is available.
func (c *RetryController) ShouldAutoRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.destroyed && c.attempt < c.cfg.MaxAutoRetries
}

// RemainingRetries returns how many automatic attempts are left.
func (c *RetryController) RemainingRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt >= c.cfg.MaxAutoRetries {
		return 0
	}
	return c.cfg.MaxAutoRetries - c.attempt
}

// Attempts returns the number of automatic attempts consumed.
func (c *RetryController) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// LastErrorType returns the most recently reported error type.
func (c *RetryController) LastErrorType() domain.ErrorType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastType
}

// HandleError routes one reported failure. While the attempt budget
// lasts, it schedules retryFn after the error type's delay and returns an
// auto-retry decision. Once exhausted it notifies listeners that manual
// intervention is required and, for network-type errors, starts listening
// for connectivity restoration so the caller is notified without polling.
func (c *RetryController) HandleError(errType domain.ErrorType, retryFn func()) domain.RetryDecision {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.RetryDecision{
			Action:    domain.ActionManualRetryRequired,
			ErrorType: errType,
		}
	}

	c.lastType = errType

	if c.attempt >= c.cfg.MaxAutoRetries {
		total := c.attempt
		if errType == domain.ErrorNetwork {
			c.watchConnectivityLocked()
		}
		c.emitLocked(RetryEvent{Kind: RetryExhausted, TotalAttempts: total, ErrorType: errType})
		c.emitLocked(RetryEvent{Kind: ManualRetryRequired, TotalAttempts: total, ErrorType: errType})
		c.mu.Unlock()
		return domain.RetryDecision{
			Action:        domain.ActionManualRetryRequired,
			TotalAttempts: total,
			ErrorType:     errType,
		}
	}

	c.attempt++
	attempt := c.attempt
	delay := c.RetryDelay(errType)

	c.clearTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.fire(gen, retryFn) })

	c.emitLocked(RetryEvent{
		Kind:        RetryScheduled,
		Attempt:     attempt,
		MaxAttempts: c.cfg.MaxAutoRetries,
		Delay:       delay,
		ErrorType:   errType,
	})
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Infow("auto retry scheduled",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAutoRetries,
			"delay", delay,
			"error_type", errType,
		)
	}

	return domain.RetryDecision{
		Action:      domain.ActionAutoRetry,
		Attempt:     attempt,
		MaxAttempts: c.cfg.MaxAutoRetries,
		Delay:       delay,
		ErrorType:   errType,
	}
}

// Reset clears the attempt count and cancels any pending retry. Must be
// called when the session reaches the playing stage.
func (c *RetryController) Reset() {
	c.mu.Lock()
	c.attempt = 0
	c.lastType = ""
	c.clearTimerLocked()
	c.unwatchConnectivityLocked()
	c.mu.Unlock()
}

// Destroy tears the controller down: pending timer cancelled,
// connectivity listener deregistered, all listener references dropped.
func (c *RetryController) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.clearTimerLocked()
	c.unwatchConnectivityLocked()
	c.listeners = make(map[int]func(RetryEvent))
	c.deliveries = nil
	c.mu.Unlock()
}

func (c *RetryController) fire(gen uint64, retryFn func()) {
	c.mu.Lock()
	if c.destroyed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	retryFn()
}

// clearTimerLocked stops the pending timer and bumps the generation so a
// concurrently-firing callback becomes a no-op.
func (c *RetryController) clearTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *RetryController) watchConnectivityLocked() {
	if c.connectivity == nil || c.unsubNet != nil {
		return
	}
	c.unsubNet = c.connectivity.Subscribe(func() {
		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			return
		}
		c.emitLocked(RetryEvent{Kind: NetworkRestored, ErrorType: domain.ErrorNetwork})
		c.mu.Unlock()
	})
}

func (c *RetryController) unwatchConnectivityLocked() {
	if c.unsubNet != nil {
		c.unsubNet()
		c.unsubNet = nil
	}
}

// emitLocked queues the event for delivery off the lock. A single drain
// goroutine works the queue, so listeners observe events in emit order;
// back-to-back emits can never race each other to the listeners.
func (c *RetryController) emitLocked(evt RetryEvent) {
	fns := make([]func(RetryEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.deliveries = append(c.deliveries, retryDelivery{evt: evt, fns: fns})
	if c.delivering {
		return
	}
	c.delivering = true
	go c.drainDeliveries()
}

func (c *RetryController) drainDeliveries() {
	for {
		c.mu.Lock()
		if len(c.deliveries) == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		next := c.deliveries[0]
		c.deliveries = c.deliveries[1:]
		c.mu.Unlock()

		for _, fn := range next.fns {
			fn(next.evt)
		}
	}
}
