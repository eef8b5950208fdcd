// Package queue provides a bounded-concurrency FIFO task queue used to
// stagger expensive session initializations. Concurrency here means
// overlapping asynchronous waits up to the limit, not parallelism the
// queue itself creates demand for: each task is expected to spend most of
// its time blocked on I/O.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled settles every task that is cancelled before it started.
var ErrCancelled = errors.New("queue: task cancelled before start")

type settlement[T any] struct {
	val T
	err error
}

type task[T any] struct {
	id   string
	fn   func(ctx context.Context) (T, error)
	ctx  context.Context
	done chan settlement[T]
}

// Queue runs submitted tasks in FIFO order with at most limit of them
// in flight at once, waiting delay after each settlement before the next
// dispatch. A task leaves the pending list exactly once, either by
// starting execution or by cancellation. In-flight tasks are never
// interrupted; they observe their own context cooperatively.
type Queue[T any] struct {
	mu      sync.Mutex
	limit   int
	delay   time.Duration
	pending []*task[T]
	active  int
}

// New creates a queue with the given in-flight limit and inter-task delay.
// Limits below 1 are clamped to 1.
func New[T any](limit int, delay time.Duration) *Queue[T] {
	if limit < 1 {
		limit = 1
	}
	return &Queue[T]{limit: limit, delay: delay}
}

// Enqueue submits fn and blocks the caller until the task has run and
// settled, or until it is cancelled while still pending. A task failure
// settles only its own result and never poisons subsequent tasks.
//
// If ctx expires while the task is still pending, the task is withdrawn
// and ctx.Err() returned. Once started, the caller waits for the task's
// own settlement regardless of ctx.
func (q *Queue[T]) Enqueue(ctx context.Context, id string, fn func(ctx context.Context) (T, error)) (T, error) {
	t := &task[T]{id: id, fn: fn, ctx: ctx, done: make(chan settlement[T], 1)}

	q.mu.Lock()
	if q.active < q.limit {
		q.active++
		go q.run(t)
	} else {
		q.pending = append(q.pending, t)
	}
	q.mu.Unlock()

	select {
	case s := <-t.done:
		return s.val, s.err
	case <-ctx.Done():
		var zero T
		if q.withdraw(t) {
			return zero, ctx.Err()
		}
		// Already started; wait for its settlement.
		s := <-t.done
		return s.val, s.err
	}
}

// Cancel rejects all not-yet-started tasks with ErrCancelled. Tasks that
// already started keep running to settlement.
func (q *Queue[T]) Cancel() {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range drained {
		var zero T
		t.done <- settlement[T]{zero, ErrCancelled}
	}
}

// Reset cancels pending tasks and clears the in-flight counter. Intended
// for teardown and test isolation; settlements of tasks still in flight
// do not drive the counter below zero afterwards.
func (q *Queue[T]) Reset() {
	q.Cancel()
	q.mu.Lock()
	q.active = 0
	q.mu.Unlock()
}

// Len reports the number of pending (not yet started) tasks.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active reports the number of started but unsettled tasks.
func (q *Queue[T]) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *Queue[T]) run(t *task[T]) {
	val, err := t.fn(t.ctx)
	t.done <- settlement[T]{val, err}

	if q.delay > 0 {
		time.Sleep(q.delay)
	}

	q.mu.Lock()
	if q.active > 0 {
		q.active--
	}
	q.dispatchLocked()
	q.mu.Unlock()
}

func (q *Queue[T]) dispatchLocked() {
	for q.active < q.limit && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		go q.run(t)
	}
}

// withdraw removes t from the pending list if it has not started yet.
func (q *Queue[T]) withdraw(t *task[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == t {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}
