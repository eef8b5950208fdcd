// Package events fans session lifecycle events out to in-process
// subscribers (the websocket feed) and, when configured, across
// instances through Redis.
package events

import (
	"context"
	"sync"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"

	"go.uber.org/zap"
)

// Forwarder pushes events beyond the local process.
type Forwarder interface {
	Forward(ctx context.Context, event domain.Event) error
}

// Hub is the in-process event fan-out. Slow subscribers are dropped
// rather than allowed to block the publish path.
type Hub struct {
	mu        sync.Mutex
	subs      map[int]chan domain.Event
	nextID    int
	forwarder Forwarder
	logger    *zap.SugaredLogger
}

var _ ports.EventPublisher = (*Hub)(nil)

const subscriberBuffer = 64

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

// SetForwarder attaches a cross-instance forwarder. Call before serving.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Publish delivers the event to every local subscriber and forwards it
// when a forwarder is attached.
func (h *Hub) Publish(ctx context.Context, event domain.Event) {
	h.deliver(event)

	h.mu.Lock()
	f := h.forwarder
	h.mu.Unlock()
	if f != nil {
		if err := f.Forward(ctx, event); err != nil && h.logger != nil {
			h.logger.Warnw("event forward failed", "type", event.Type, "error", err)
		}
	}
}

// Inject delivers an event that arrived from another instance to local
// subscribers only.
func (h *Hub) Inject(event domain.Event) {
	h.deliver(event)
}

// Subscribe returns a channel of events and its unsubscribe func.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) deliver(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			if h.logger != nil {
				h.logger.Debugw("dropping event for slow subscriber", "type", event.Type)
			}
		}
	}
}
