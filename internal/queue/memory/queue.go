// Package memory provides the in-process work queue feeding the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of work items with context-aware operations.
// Termination is signaled by sentinel items, never by emptiness.
type Queue struct {
	ch      chan harvest.WorkItem
	pending atomic.Int64
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan harvest.WorkItem, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item harvest.WorkItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if !item.IsStop() {
		q.pending.Add(1)
	}
	select {
	case <-ctx.Done():
		if !item.IsStop() {
			q.pending.Add(-1)
		}
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// EnqueueStop appends n sentinels. Call it after every real item is enqueued.
func (q *Queue) EnqueueStop(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := q.Enqueue(ctx, harvest.Stop()); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (harvest.WorkItem, error) {
	select {
	case <-ctx.Done():
		return harvest.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return harvest.WorkItem{}, ErrClosed
		}
		if !item.IsStop() {
			q.pending.Add(-1)
		}
		return item, nil
	}
}

// Len reports how many real items are still waiting. It is meant for progress
// reporting only.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Close closes the underlying channel. Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
