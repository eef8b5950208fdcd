package services

import (
	"sync"
	"time"

	"viewmux/internal/core/domain"
)

// StageBudget is the per-stage timeout for a tier. Low-power devices
// legitimately take longer to reach playing; a uniform short budget would
// false-positive on them.
func StageBudget(tier domain.Tier, low, other time.Duration) time.Duration {
	if tier == domain.TierLow {
		return low
	}
	return other
}

// TroubleshootPolicy controls how often the troubleshooting suggestion
// re-fires once the consecutive-failure threshold is reached.
type TroubleshootPolicy string

const (
	TroubleshootOnce  TroubleshootPolicy = "once"
	TroubleshootEvery TroubleshootPolicy = "every"
)

// WatchdogEvent is pushed to loading watchdog listeners.
type WatchdogEvent struct {
	Kind     WatchdogEventKind
	Stage    domain.LoadStage // stage in effect when the event fired
	Failures int              // consecutive failures so far
}

type WatchdogEventKind int

const (
	WatchdogTimeout WatchdogEventKind = iota
	WatchdogPlaying
	WatchdogSuggestTroubleshooting
)

// WatchdogConfig tunes one loading watchdog.
type WatchdogConfig struct {
	Budget           time.Duration
	FailureThreshold int
	Policy           TroubleshootPolicy
}

// LoadingWatchdog tracks one session's progressive loading stages and
// fires a timeout if a stage is not exited within the budget. Stages move
// strictly forward; error and timeout are reachable from any non-terminal
// stage; retry returns to connecting.
type LoadingWatchdog struct {
	mu        sync.Mutex
	cfg       WatchdogConfig
	stage     domain.LoadStage
	started   bool
	destroyed bool
	timer     *time.Timer
	gen       uint64

	failures  int
	suggested bool

	listeners map[int]func(WatchdogEvent)
	nextID    int

	deliveries []watchdogDelivery
	delivering bool
}

// watchdogDelivery is one queued notification with the listener set
// snapshotted at emit time.
type watchdogDelivery struct {
	evt WatchdogEvent
	fns []func(WatchdogEvent)
}

// NewLoadingWatchdog creates a watchdog; call Begin to arm it.
func NewLoadingWatchdog(cfg WatchdogConfig) *LoadingWatchdog {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Policy == "" {
		cfg.Policy = TroubleshootEvery
	}
	return &LoadingWatchdog{
		cfg:       cfg,
		stage:     domain.StageConnecting,
		listeners: make(map[int]func(WatchdogEvent)),
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (w *LoadingWatchdog) Subscribe(fn func(WatchdogEvent)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// Begin enters the connecting stage and arms the stage timer.
func (w *LoadingWatchdog) Begin() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return
	}
	w.stage = domain.StageConnecting
	w.started = true
	w.armLocked()
}

// Stage returns the current loading stage.
func (w *LoadingWatchdog) Stage() domain.LoadStage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stage
}

// Failures returns the consecutive failure count.
func (w *LoadingWatchdog) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// Advance moves to the next stage. Legal moves are strictly forward along
// connecting -> loading -> buffering -> starting -> playing, any
// non-terminal stage to error or timeout, and error/timeout back to
// connecting (explicit retry). Anything else returns ErrInvalidTransition.
func (w *LoadingWatchdog) Advance(next domain.LoadStage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed || !w.started {
		return domain.ErrInvalidTransition
	}

	if !validTransition(w.stage, next) {
		return domain.ErrInvalidTransition
	}

	w.stage = next
	switch {
	case next == domain.StagePlaying:
		w.disarmLocked()
		w.failures = 0
		w.suggested = false
		w.emitLocked(WatchdogEvent{Kind: WatchdogPlaying, Stage: next})
	case next.Terminal():
		w.disarmLocked()
	default:
		w.armLocked()
	}
	return nil
}

func validTransition(from, to domain.LoadStage) bool {
	// Retry path out of a failed state.
	if from == domain.StageError || from == domain.StageTimeout {
		return to == domain.StageConnecting
	}
	if to == domain.StageError || to == domain.StageTimeout {
		return from != domain.StagePlaying
	}
	return to > from && to <= domain.StagePlaying
}

// Destroy disarms the timer and drops all listeners.
func (w *LoadingWatchdog) Destroy() {
	w.mu.Lock()
	w.destroyed = true
	w.disarmLocked()
	w.listeners = make(map[int]func(WatchdogEvent))
	w.deliveries = nil
	w.mu.Unlock()
}

// armLocked (re)arms the stage timer. The generation counter guarantees a
// timer that fires after disarm is a no-op even if it was already past
// Stop.
func (w *LoadingWatchdog) armLocked() {
	w.disarmLocked()
	gen := w.gen
	w.timer = time.AfterFunc(w.cfg.Budget, func() { w.onTimeout(gen) })
}

func (w *LoadingWatchdog) disarmLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

func (w *LoadingWatchdog) onTimeout(gen uint64) {
	w.mu.Lock()
	if w.destroyed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	interrupted := w.stage
	w.stage = domain.StageTimeout
	w.timer = nil
	w.gen++
	w.failures++
	failures := w.failures

	w.emitLocked(WatchdogEvent{Kind: WatchdogTimeout, Stage: interrupted, Failures: failures})

	if failures >= w.cfg.FailureThreshold {
		if w.cfg.Policy == TroubleshootEvery || !w.suggested {
			w.suggested = true
			w.emitLocked(WatchdogEvent{Kind: WatchdogSuggestTroubleshooting, Stage: interrupted, Failures: failures})
		}
	}
	w.mu.Unlock()
}

// emitLocked queues the event for delivery off the lock. A single drain
// goroutine works the queue, so a timeout and the troubleshooting
// suggestion it triggers always reach listeners in that order.
func (w *LoadingWatchdog) emitLocked(evt WatchdogEvent) {
	fns := make([]func(WatchdogEvent), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.deliveries = append(w.deliveries, watchdogDelivery{evt: evt, fns: fns})
	if w.delivering {
		return
	}
	w.delivering = true
	go w.drainDeliveries()
}

func (w *LoadingWatchdog) drainDeliveries() {
	for {
		w.mu.Lock()
		if len(w.deliveries) == 0 {
			w.delivering = false
			w.mu.Unlock()
			return
		}
		next := w.deliveries[0]
		w.deliveries = w.deliveries[1:]
		w.mu.Unlock()

		for _, fn := range next.fns {
			fn(next.evt)
		}
	}
}
