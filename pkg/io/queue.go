package io

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosedQueue is returned by Queue operations after Close.
var ErrClosedQueue = errors.New("io: queue is closed")

// Queue is a bounded FIFO. Push never blocks: when the queue is full the oldest
// element is evicted and counted as dropped. Queue is safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	size   int
	closed bool

	dropped atomic.Uint64
	pushed  atomic.Uint64

	notify chan struct{}
	done   chan struct{}
}

// NewQueue creates a queue holding at most capacity elements. A capacity below
// 1 is treated as 1.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Queue[T]{
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v, evicting the oldest element when the queue is full.
// It reports how many elements were evicted.
func (q *Queue[T]) Push(v T) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosedQueue
	}

	evicted := 0
	if q.size == len(q.items) {
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
		evicted = 1
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	q.mu.Unlock()

	q.pushed.Add(1)
	if evicted > 0 {
		q.dropped.Add(uint64(evicted))
	}
	q.signal()
	return evicted, nil
}

// TryPop removes the oldest element without waiting. ok is false when the
// queue is empty or closed.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.size == 0 {
		return v, false
	}
	v = q.popLocked()
	if q.size > 0 {
		q.signal()
	}
	return v, true
}

// Pop removes the oldest element, waiting until one is available, ctx is done
// or the queue is closed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosedQueue
		}
		if q.size > 0 {
			v := q.popLocked()
			if q.size > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives a value when elements become
// available. A single value may stand for several pushes.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Done is closed when the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// Dropped returns how many elements were evicted since creation.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Pushed returns how many elements were accepted since creation.
func (q *Queue[T]) Pushed() uint64 {
	return q.pushed.Load()
}

// Close releases the queued elements and wakes up waiting readers. Close is
// idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.size = 0
	close(q.done)
}
