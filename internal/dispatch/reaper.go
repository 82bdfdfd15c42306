package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/applog"
)

// DefaultPollTimeout is the bounded wait the reaper gives each job's
// pending result before re-queueing it at the tail, per SPEC_FULL.md §4.7.
const DefaultPollTimeout = 500 * time.Millisecond

// AsyncJobReaper is the single worker that drains the async-job queue,
// polling each pending result with a bounded wait so a slow handler never
// blocks one that finished quickly: a timed-out job is simply re-queued
// behind whatever arrived after it.
type AsyncJobReaper[T any] struct {
	queue       *AsyncQueue[T]
	assembly    *ResponseAssembly[T]
	registry    ConnectionRegistry
	invalidKey  api.InvalidKeyHandler
	logger      applog.Logger
	pollTimeout time.Duration
}

// NewAsyncJobReaper constructs a reaper draining queue. pollTimeout of zero
// uses DefaultPollTimeout.
func NewAsyncJobReaper[T any](
	queue *AsyncQueue[T],
	assembly *ResponseAssembly[T],
	registry ConnectionRegistry,
	invalidKey api.InvalidKeyHandler,
	logger applog.Logger,
	pollTimeout time.Duration,
) *AsyncJobReaper[T] {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &AsyncJobReaper[T]{
		queue:       queue,
		assembly:    assembly,
		registry:    registry,
		invalidKey:  invalidKey,
		logger:      logger,
		pollTimeout: pollTimeout,
	}
}

// Run drains the queue until ctx is cancelled (ordinary shutdown) or a job
// resolves with AsyncFailure, which is fatal to the reaper per SPEC_FULL.md
// §7: Run returns the error and processes no further jobs. Restarting the
// reaper is the caller's job (the server's superviseReaper does so).
func (r *AsyncJobReaper[T]) Run(ctx context.Context) error {
	for {
		job, err := r.queue.Take(ctx)
		if err != nil {
			return nil
		}
		if err := r.processOnce(ctx, job); err != nil {
			r.logger.Error("async job reaper terminating", "error", err)
			return err
		}
	}
}

func (r *AsyncJobReaper[T]) processOnce(ctx context.Context, job *AsyncJob[T]) error {
	timer := time.NewTimer(r.pollTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-job.Pending:
		if !ok {
			return api.NewFrameError(api.KindAsyncFailure, errors.New("pending result channel closed without a value"))
		}
		if res.Err != nil {
			return api.NewFrameError(api.KindAsyncFailure, res.Err)
		}
		if !res.Ok {
			return nil
		}
		return r.deliver(job.Key, job.Original, res.Response)
	case <-timer.C:
		r.queue.Enqueue(job)
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (r *AsyncJobReaper[T]) deliver(key api.ConnKey, original T, payload []byte) error {
	job, err := r.assembly.Assemble(original, payload)
	if err != nil {
		r.logger.Warn("async response refinement failed, passing key to invalid-key handler", "key", key, "error", err)
		r.invalidKey.Handle(key)
		return nil
	}
	q, ok := r.registry.WriterQueue(key)
	if !ok {
		return nil
	}
	if !q.Enqueue(job) {
		r.invalidKey.Handle(key)
	}
	return nil
}
