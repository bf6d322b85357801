package transport

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO drained by a single goroutine, so items are
// handled one at a time in push order and Push never blocks.
type Queue[T any] struct {
	fn func(T)

	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
	drain  bool
	done   chan struct{}
}

// NewQueue starts a queue that calls fn for every pushed item.
func NewQueue[T any](fn func(T)) *Queue[T] {
	q := &Queue[T]{fn: fn, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Push appends item. It reports false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards waiting items and stops the worker after the item in
// progress. It also cuts short a pending Drain. It does not wait, so it is
// safe to call from fn.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed && !q.drain {
		return
	}
	q.closed = true
	q.drain = false
	q.items = nil
	q.cond.Broadcast()
}

// Drain stops accepting items and lets the worker finish the backlog
// before it exits. Like Close it does not wait.
func (q *Queue[T]) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.drain = true
	q.cond.Broadcast()
}

// CloseAndWait drains the queue and blocks until the backlog is handled
// or ctx ends. It must not be called from fn.
func (q *Queue[T]) CloseAndWait(ctx context.Context) error {
	q.Drain()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has exited.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && (!q.drain || len(q.items) == 0) {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.fn(item)
	}
}
