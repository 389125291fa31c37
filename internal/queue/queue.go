package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/vetter/internal/models"
)

// ErrQueueClosed is returned by Enqueue once shutdown has begun
var ErrQueueClosed = errors.New("queue closed")

type entry struct {
	item     *models.WorkItem
	sentinel bool
}

// Queue is a bounded FIFO of work items. Sentinels ride in the same order as items,
// so a worker drains everything queued ahead of its stop signal.
type Queue struct {
	mu       sync.Mutex
	entries  []entry
	items    int
	capacity int
	closed   bool
	changed  chan struct{}
}

// New creates a Queue holding at most capacity items
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// broadcast wakes every waiter. Caller holds mu.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue appends item, blocking while the queue is full.
// It returns the 1-based position of the item at enqueue time.
func (q *Queue) Enqueue(ctx context.Context, item *models.WorkItem) (int, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}
		if q.items < q.capacity {
			q.entries = append(q.entries, entry{item: item})
			q.items++
			position := q.items
			q.broadcast()
			q.mu.Unlock()
			return position, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
	}
}

// Dequeue blocks until an entry is available. ok is false for a sentinel.
func (q *Queue) Dequeue(ctx context.Context) (*models.WorkItem, bool, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			next := q.entries[0]
			q.entries[0] = entry{}
			q.entries = q.entries[1:]
			if !next.sentinel {
				q.items--
			}
			q.broadcast()
			q.mu.Unlock()
			return next.item, !next.sentinel, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-wait:
		}
	}
}

// PushSentinel queues a stop signal. It ignores both the capacity bound and Close.
func (q *Queue) PushSentinel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry{sentinel: true})
	q.broadcast()
}

// Close rejects further Enqueue calls, including ones blocked on a full queue
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// Len returns the number of queued items, not counting sentinels
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
