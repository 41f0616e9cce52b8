// Package queue provides the blocking, closable queue shared by the sync
// coordinator and its fetch workers.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Put once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded queue, LIFO unless built with NewFIFO. Get blocks
// until an item is available or the queue is closed and empty. Close wakes
// every blocked Get, not just one.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	fifo   bool
	closed bool
}

// New returns an empty open LIFO queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// NewFIFO returns an empty open queue that hands items out in the order they
// were put. Items from one producer therefore never overtake each other.
func NewFIFO[T any]() *Queue[T] {
	q := New[T]()
	q.fifo = true
	return q
}

// Put adds item and wakes one waiter.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Get removes and returns the most recently added item, or the oldest one for
// a FIFO queue. ok is false once the queue is closed and drained.
func (q *Queue[T]) Get() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return item, false
	}

	var zero T
	if q.fifo {
		item = q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		return item, true
	}
	last := len(q.items) - 1
	item = q.items[last]
	q.items[last] = zero
	q.items = q.items[:last]
	return item, true
}

// Close stops further Puts. Items already queued are still handed out.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
