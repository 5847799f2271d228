// Package queue provides the FIFO the scheduler hands run ids to and
// workers pick them up from. MemoryQueue serves single-process
// deployments; RedisQueue rides Redis streams with consumer groups so
// multiple runner processes can share the load.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrEmpty is returned by a non-blocking pop on an empty queue.
var ErrEmpty = errors.New("queue empty")

// Queue is a FIFO of run ids.
type Queue interface {
	// Push enqueues an id.
	Push(ctx context.Context, id string) error
	// Pop dequeues the oldest id, blocking until one is available or
	// the context is done.
	Pop(ctx context.Context) (string, error)
	// Remove deletes a queued id before pickup; returns false when the
	// id is no longer queued.
	Remove(ctx context.Context, id string) (bool, error)
	// Close releases resources.
	Close() error
}

// MemoryQueue is an in-process FIFO.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues an id.
func (q *MemoryQueue) Push(_ context.Context, id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue closed")
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until an id is available or ctx is done.
func (q *MemoryQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", ErrEmpty
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

// TryPop dequeues without blocking.
func (q *MemoryQueue) TryPop() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", ErrEmpty
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, nil
}

// Remove deletes a queued id before pickup.
func (q *MemoryQueue) Remove(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Close marks the queue closed; blocked Pops drain what remains. The
// done channel wakes every waiter, not just one.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	return nil
}
