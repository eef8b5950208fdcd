package events

import (
	"context"
	"testing"
	"time"

	"viewmux/internal/core/domain"

	"go.uber.org/zap/zaptest"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())

	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.Publish(context.Background(), domain.Event{Type: domain.EventSessionAdmitted, SessionID: "cam-1"})

	select {
	case evt := <-ch:
		if evt.Type != domain.EventSessionAdmitted || evt.SessionID != "cam-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())

	ch, unsub := hub.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	hub.Publish(context.Background(), domain.Event{Type: domain.EventSessionRemoved})
}

func TestHubDropsEventsForSlowSubscriber(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())

	ch, unsub := hub.Subscribe()
	defer unsub()

	// Never read: fill the buffer and then some. Publish must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(context.Background(), domain.Event{Type: domain.EventSessionPlaying})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected buffer to hold %d events, got %d", subscriberBuffer, got)
	}
}
