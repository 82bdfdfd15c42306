package dispatch

import (
	"context"
	"sync"

	"github.com/ashgrove/reactor/api"
)

// AsyncJob pairs a connection key and the original decoded message with the
// pending result an AsyncMessageHandler promised to eventually deliver.
// Created when the Dispatcher hands a message to an async handler;
// destroyed when its result is written or the connection closes.
type AsyncJob[T any] struct {
	Key      api.ConnKey
	Original T
	Pending  <-chan api.AsyncResult
}

// AsyncQueue is the shared blocking FIFO between the Dispatcher (producer,
// on the reactor thread) and the AsyncJobReaper (consumer, and also a
// producer when it re-queues a timed-out job). It is unbounded: the reaper
// is both the sole consumer and, on timeout, a producer back into the same
// queue, so a bounded channel would risk the reaper deadlocking against
// itself. notify is a capacity-1 wakeup signal, not the data path.
type AsyncQueue[T any] struct {
	mu     sync.Mutex
	items  []*AsyncJob[T]
	notify chan struct{}
}

// NewAsyncQueue constructs an empty AsyncQueue.
func NewAsyncQueue[T any]() *AsyncQueue[T] {
	return &AsyncQueue[T]{notify: make(chan struct{}, 1)}
}

// Enqueue appends job at the tail and wakes one blocked Take.
func (q *AsyncQueue[T]) Enqueue(job *AsyncJob[T]) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take blocks until a job is available or ctx is done.
func (q *AsyncQueue[T]) Take(ctx context.Context) (*AsyncJob[T], error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports how many jobs are currently queued, for diagnostics and tests.
func (q *AsyncQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
