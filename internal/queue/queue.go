// Package queue schedules independent units of work with a fixed concurrency
// cap and a completion barrier.
package queue

import (
	"context"
	"sync"
)

// Unit is one schedulable piece of work. Units must capture their own
// failures; the queue does not editorialize on errors.
type Unit func()

// Queue runs enqueued units with at most K running concurrently. Units start
// in FIFO enqueue order; completion order is unconstrained. A unit's failure
// never cancels siblings.
type Queue struct {
	limit int

	mu      sync.Mutex
	pending []Unit
	running int
	waiters []chan struct{}
}

// New creates a queue with the given concurrency cap. Caps below 1 are
// raised to 1.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{limit: concurrency}
}

// Enqueue schedules a unit and returns immediately.
func (q *Queue) Enqueue(u Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, u)
	q.dispatchLocked()
}

func (q *Queue) dispatchLocked() {
	for q.running < q.limit && len(q.pending) > 0 {
		u := q.pending[0]
		q.pending = q.pending[1:]
		q.running++
		go q.runUnit(u)
	}
}

func (q *Queue) runUnit(u Unit) {
	defer func() {
		q.mu.Lock()
		q.running--
		q.dispatchLocked()
		if q.running == 0 && len(q.pending) == 0 {
			for _, w := range q.waiters {
				close(w)
			}
			q.waiters = nil
		}
		q.mu.Unlock()
	}()
	u()
}

// Completed blocks until every enqueued unit has settled, including units
// enqueued after the call, up until no more are pending. It returns early
// with ctx.Err() if ctx is cancelled; units already running keep going.
func (q *Queue) Completed(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.running == 0 && len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		w := make(chan struct{})
		q.waiters = append(q.waiters, w)
		q.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
