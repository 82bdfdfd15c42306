package dispatch

import (
	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/applog"
	"github.com/ashgrove/reactor/internal/writer"
)

// ConnectionRegistry resolves a live connection's writer queue by key. The
// reactor loop owns the real implementation; Dispatch and the reaper only
// ever need this one lookup.
type ConnectionRegistry interface {
	WriterQueue(key api.ConnKey) (*writer.Queue, bool)
}

// Dispatcher routes a completed message to whichever handler is configured
// and folds the result back into the destination connection's writer queue.
// It also implements api.Dispatcher so a sync handler's ConnectionContext
// can push unsolicited notifications through the same path.
type Dispatcher[T any] struct {
	sync              api.MessageHandler[T]
	async             api.AsyncMessageHandler[T]
	queue             *AsyncQueue[T]
	assembly          *ResponseAssembly[T]
	registry          ConnectionRegistry
	invalidKeyHandler api.InvalidKeyHandler
	logger            applog.Logger
}

// NewDispatcher constructs a Dispatcher. Exactly one of sync/async is
// normally non-nil; if both are given, async takes priority for every
// message, whichever handler was registered last.
func NewDispatcher[T any](
	sync api.MessageHandler[T],
	async api.AsyncMessageHandler[T],
	queue *AsyncQueue[T],
	assembly *ResponseAssembly[T],
	registry ConnectionRegistry,
	invalidKeyHandler api.InvalidKeyHandler,
	logger applog.Logger,
) *Dispatcher[T] {
	return &Dispatcher[T]{
		sync:              sync,
		async:             async,
		queue:             queue,
		assembly:          assembly,
		registry:          registry,
		invalidKeyHandler: invalidKeyHandler,
		logger:            logger,
	}
}

// Dispatch hands a completed message to the configured handler. A sync
// handler only runs when no async handler is registered.
func (d *Dispatcher[T]) Dispatch(key api.ConnKey, msg *api.Message[T]) error {
	switch {
	case d.async != nil:
		pending := d.async.Handle(msg.Value)
		d.queue.Enqueue(&AsyncJob[T]{Key: key, Original: msg.Value, Pending: pending})
		return nil
	case d.sync != nil:
		ctx := api.ConnectionContext[T]{Key: key, Dispatcher: d}
		resp, ok, err := d.sync.Handle(ctx, msg.Value)
		if err != nil {
			return api.NewFrameError(api.KindHandlerFailure, err)
		}
		if !ok {
			return nil
		}
		return d.deliver(key, msg.Value, resp)
	default:
		d.logger.Warn("dropping message: no sync or async handler registered", "key", key)
		return nil
	}
}

// Notify implements api.Dispatcher, letting a handler push an unsolicited
// response on any still-open connection.
func (d *Dispatcher[T]) Notify(key api.ConnKey, original T, payload []byte) error {
	return d.deliver(key, original, payload)
}

func (d *Dispatcher[T]) deliver(key api.ConnKey, original T, payload []byte) error {
	job, err := d.assembly.Assemble(original, payload)
	if err != nil {
		return err
	}
	q, ok := d.registry.WriterQueue(key)
	if !ok {
		d.logger.Warn("dropping response: key no longer valid", "key", key)
		return nil
	}
	if !q.Enqueue(job) {
		d.invalidKeyHandler.Handle(key)
	}
	return nil
}
