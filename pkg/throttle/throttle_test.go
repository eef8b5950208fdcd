package throttle

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []int
}

func (r *recorder) record(v int) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestThrottle_CoalescesToLatestValue(t *testing.T) {
	rec := &recorder{}
	th := New(rec.record, 50*time.Millisecond)

	for i := 1; i <= 5; i++ {
		th.Call(i)
	}
	time.Sleep(80 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected leading + trailing invocation, got %v", calls)
	}
	if calls[0] != 1 {
		t.Errorf("leading call should carry first value, got %d", calls[0])
	}
	if calls[1] != 5 {
		t.Errorf("trailing call should carry latest value, got %d", calls[1])
	}
}

func TestThrottle_NoLatencyOnSparseInput(t *testing.T) {
	rec := &recorder{}
	th := New(rec.record, 20*time.Millisecond)

	th.Call(1)
	time.Sleep(40 * time.Millisecond)
	th.Call(2)

	calls := rec.snapshot()
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("sparse calls must fire immediately, got %v", calls)
	}
}

func TestThrottle_CancelDropsPendingInvocation(t *testing.T) {
	rec := &recorder{}
	th := New(rec.record, 50*time.Millisecond)

	th.Call(1) // fires immediately
	th.Call(2) // deferred
	th.Cancel()
	time.Sleep(80 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("cancelled trailing call must not fire, got %v", calls)
	}
}

func TestThrottle_BoundsInvocationRate(t *testing.T) {
	rec := &recorder{}
	const interval = 30 * time.Millisecond
	th := New(rec.record, interval)

	start := time.Now()
	for time.Since(start) < 120*time.Millisecond {
		th.Call(int(time.Since(start)))
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(2 * interval)
	elapsed := time.Since(start)

	max := int(elapsed/interval) + 2
	if got := len(rec.snapshot()); got > max {
		t.Errorf("fired %d times in %v with interval %v, want at most %d", got, elapsed, interval, max)
	}
}

func TestThrottle_DefaultInterval(t *testing.T) {
	th := New(func(int) {}, 0)
	if th.interval != DefaultInterval {
		t.Errorf("expected default interval %v, got %v", DefaultInterval, th.interval)
	}
}
