// Package throttle rate-limits high-frequency continuous input such as
// pointer-driven pan/zoom updates. Calls are coalesced, never queued: the
// wrapped callback always receives the most recent argument.
package throttle

import (
	"sync"
	"time"
)

// DefaultInterval matches one display frame at 60 Hz.
const DefaultInterval = time.Second / 60

// Throttle invokes the wrapped callback at most once per interval, always
// with the latest supplied value. A call arriving after the interval has
// elapsed fires immediately; otherwise it is deferred to the next
// interval boundary, replacing any value buffered there.
type Throttle[T any] struct {
	mu       sync.Mutex
	fn       func(T)
	interval time.Duration
	last     time.Time
	timer    *time.Timer
	pending  bool
	arg      T
}

// New wraps fn. Intervals <= 0 fall back to DefaultInterval.
func New[T any](fn func(T), interval time.Duration) *Throttle[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttle[T]{fn: fn, interval: interval}
}

// Call submits a value. Sparse input incurs no artificial latency.
func (t *Throttle[T]) Call(v T) {
	t.mu.Lock()
	now := time.Now()
	if !t.pending && now.Sub(t.last) >= t.interval {
		t.last = now
		fn := t.fn
		t.mu.Unlock()
		fn(v)
		return
	}

	t.arg = v
	if !t.pending {
		t.pending = true
		wait := t.interval - now.Sub(t.last)
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, t.flush)
	}
	t.mu.Unlock()
}

// Cancel drops any deferred invocation and its buffered value without
// firing. Used on teardown to prevent a stray post-unmount write.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	var zero T
	t.arg = zero
	t.mu.Unlock()
}

func (t *Throttle[T]) flush() {
	t.mu.Lock()
	if !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	v := t.arg
	var zero T
	t.arg = zero
	t.last = time.Now()
	fn := t.fn
	t.mu.Unlock()
	fn(v)
}
