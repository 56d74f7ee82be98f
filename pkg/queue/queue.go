// Package queue provides the unbounded FIFO that connects capture stages.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Put after Close, and by Get once the queue is
// closed and fully drained.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO safe for many producers and consumers. Put never blocks;
// the backlog grows instead, so a slow consumer cannot stall a producer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	// ready is closed and replaced on every state change to wake all waiters.
	ready chan struct{}
	// size is only written while mu is held so it always matches items.
	size atomic.Int64
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{})}
}

// Put appends item. It fails only after Close.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.size.Add(1)
	q.broadcastLocked()
	return nil
}

// Get removes the oldest item, blocking until one is available. It returns
// ErrClosed once the queue is closed and empty, or ctx.Err() on cancellation.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			item := q.items[q.head]
			q.items[q.head] = zero
			q.head++
			q.size.Add(-1)
			q.compactLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		wait := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Size reports the exact number of items waiting.
func (q *Queue[T]) Size() int {
	return int(q.size.Load())
}

// Close stops accepting new items. Items already queued remain available.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) broadcastLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

// compactLocked releases the consumed prefix once it dominates the slice.
func (q *Queue[T]) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		var zero T
		for i := n; i < len(q.items); i++ {
			q.items[i] = zero
		}
		q.items = q.items[:n]
		q.head = 0
	}
}
