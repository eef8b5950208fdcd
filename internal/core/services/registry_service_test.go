package services

import (
	"sync/atomic"
	"testing"

	"viewmux/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

type stubPlayer struct {
	destroyed atomic.Int32
}

func (p *stubPlayer) Destroy() error {
	p.destroyed.Add(1)
	return nil
}

type stubCanceller struct {
	cancelled atomic.Int32
}

func (c *stubCanceller) Cancel() { c.cancelled.Add(1) }

func newSession(id string) *domain.Session {
	return &domain.Session{ID: domain.SessionID(id), Status: domain.StatusInitializing}
}

func TestRegistryEnforcesLiveCap(t *testing.T) {
	reg := NewMultiViewManager(2, nil, zaptest.NewLogger(t).Sugar())

	if !reg.Add(newSession("a")) || !reg.Add(newSession("b")) {
		t.Fatal("first two sessions must be admitted")
	}
	if reg.Add(newSession("c")) {
		t.Fatal("third session admitted beyond cap")
	}
	if !reg.AtCapacity() {
		t.Fatal("registry should report at capacity")
	}
	if reg.Count() != 2 {
		t.Fatalf("count = %d, want 2", reg.Count())
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewMultiViewManager(3, nil, zaptest.NewLogger(t).Sugar())

	if !reg.Add(newSession("a")) {
		t.Fatal("first add failed")
	}
	if reg.Add(newSession("a")) {
		t.Fatal("duplicate id admitted")
	}
	if reg.CanAdd("a") {
		t.Fatal("CanAdd true for existing id")
	}
}

func TestRegistryRemoveReleasesPlayerAndFreesID(t *testing.T) {
	reg := NewMultiViewManager(1, nil, zaptest.NewLogger(t).Sugar())

	player := &stubPlayer{}
	s := newSession("a")
	s.Player = player
	reg.Add(s)

	if !reg.Remove("a") {
		t.Fatal("remove returned false for admitted session")
	}
	if player.destroyed.Load() != 1 {
		t.Fatalf("player destroyed %d times, want 1", player.destroyed.Load())
	}
	if s.Status != domain.StatusDestroyed {
		t.Fatalf("status = %s, want destroyed", s.Status)
	}

	// The id is reusable immediately, and the new session is fresh state.
	if !reg.Add(newSession("a")) {
		t.Fatal("id not reusable after remove")
	}
}

func TestRegistryRemoveUnknownID(t *testing.T) {
	reg := NewMultiViewManager(1, nil, zaptest.NewLogger(t).Sugar())
	if reg.Remove("missing") {
		t.Fatal("remove returned true for unknown id")
	}
}

func TestRegistryCleanupIsIdempotent(t *testing.T) {
	q := &stubCanceller{}
	reg := NewMultiViewManager(3, q, zaptest.NewLogger(t).Sugar())

	players := []*stubPlayer{{}, {}}
	for i, id := range []string{"a", "b"} {
		s := newSession(id)
		s.Player = players[i]
		reg.Add(s)
	}

	reg.Cleanup()
	reg.Cleanup()

	for i, p := range players {
		if p.destroyed.Load() != 1 {
			t.Errorf("player %d destroyed %d times, want exactly 1", i, p.destroyed.Load())
		}
	}
	if reg.Count() != 0 {
		t.Fatalf("count after cleanup = %d, want 0", reg.Count())
	}
	if q.cancelled.Load() != 2 {
		t.Fatalf("queue cancelled %d times, want once per cleanup", q.cancelled.Load())
	}
}

func TestRegistryAttachPlayerAfterRemoval(t *testing.T) {
	reg := NewMultiViewManager(1, nil, zaptest.NewLogger(t).Sugar())
	reg.Add(newSession("a"))

	if !reg.Remove("a") {
		t.Fatal("remove failed")
	}
	if reg.AttachPlayer("a", &stubPlayer{}) {
		t.Fatal("attach succeeded for a removed id")
	}
}

func TestRegistryAttachPlayerReleasesSupersededHandle(t *testing.T) {
	reg := NewMultiViewManager(1, nil, zaptest.NewLogger(t).Sugar())
	reg.Add(newSession("a"))

	first := &stubPlayer{}
	second := &stubPlayer{}
	if !reg.AttachPlayer("a", first) || !reg.AttachPlayer("a", second) {
		t.Fatal("attach failed for an admitted session")
	}
	if first.destroyed.Load() != 1 {
		t.Fatalf("superseded player destroyed %d times, want 1", first.destroyed.Load())
	}
	if second.destroyed.Load() != 0 {
		t.Fatal("current player must not be destroyed")
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	reg := NewMultiViewManager(1, nil, zaptest.NewLogger(t).Sugar())
	reg.Add(newSession("a"))

	s, ok := reg.Get("a")
	if !ok {
		t.Fatal("admitted session not found")
	}
	s.Status = domain.StatusPlaying

	again, _ := reg.Get("a")
	if again.Status != domain.StatusInitializing {
		t.Fatal("Get leaked a mutable reference into the registry")
	}
}

func TestRegistryActiveSessionsPreservesAdmissionOrder(t *testing.T) {
	reg := NewMultiViewManager(3, nil, zaptest.NewLogger(t).Sugar())
	for _, id := range []string{"c", "a", "b"} {
		reg.Add(newSession(id))
	}

	got := reg.ActiveSessions()
	want := []domain.SessionID{"c", "a", "b"}
	for i, s := range got {
		if s.ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, s.ID, want[i])
		}
	}
}
