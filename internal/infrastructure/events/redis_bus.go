package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventChannel  = "viewmux:events"
	forwardBuffer = 256
	flushInterval = 100 * time.Millisecond
	maxBatch      = 32
)

// RedisBus mirrors lifecycle events across instances over Redis pub/sub.
// Outbound events are buffered and flushed in pipelined batches; the
// breaker keeps a down Redis from stalling the publish path.
type RedisBus struct {
	client     *redis.Client
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger

	out    chan domain.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RedisBus {
	return &RedisBus{
		client:     client,
		instanceID: instanceID,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:     logger,
		out:        make(chan domain.Event, forwardBuffer),
		done:       make(chan struct{}),
	}
}

// Forward enqueues the event for cross-instance delivery. A full buffer
// drops the event; local delivery already happened.
func (b *RedisBus) Forward(ctx context.Context, event domain.Event) error {
	event.InstanceID = b.instanceID
	select {
	case b.out <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s", event.Type)
	}
}

// Start launches the flush loop and the remote subscription. Remote
// events are injected into hub.
func (b *RedisBus) Start(ctx context.Context, hub *Hub) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.flushLoop(ctx)
	go b.subscribeLoop(ctx, hub)
}

// Stop ends both loops and waits for the flusher to drain.
func (b *RedisBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	<-b.done
}

func (b *RedisBus) flushLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]domain.Event, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), batch)
			return
		case evt := <-b.out:
			batch = append(batch, evt)
			if len(batch) >= maxBatch {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (b *RedisBus) flush(ctx context.Context, batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	err := b.breaker.Execute(func() error {
		pipe := b.client.Pipeline()
		for _, evt := range batch {
			data, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			pipe.Publish(ctx, eventChannel, data)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && b.logger != nil {
		b.logger.Warnw("event batch publish failed", "count", len(batch), "error", err)
	}
}

func (b *RedisBus) subscribeLoop(ctx context.Context, hub *Hub) {
	pubsub := b.client.Subscribe(ctx, eventChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}

			// Skip events that originated here.
			if event.InstanceID == b.instanceID {
				continue
			}
			hub.Inject(event)
		}
	}
}
