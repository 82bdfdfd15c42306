package api

// ConnKey identifies a connection for the lifetime of that connection. It is
// the connection's underlying file descriptor, which is also what the
// reactor and writer queue use to address it.
type ConnKey int32

// Dispatcher is the capability a ConnectionContext exposes back to a sync
// handler so it can push an unsolicited response on its own connection (or
// any other still-open connection) without holding a reference to the whole
// server. Notify applies the same ResponseRefiner chain and framing a normal
// reply would get.
type Dispatcher[T any] interface {
	Notify(key ConnKey, original T, payload []byte) error
}

// ConnectionContext is handed to a synchronous MessageHandler alongside the
// decoded message.
type ConnectionContext[T any] struct {
	Key        ConnKey
	Dispatcher Dispatcher[T]
}

// MessageHandler handles a decoded message synchronously, on the reactor
// thread. Handlers must not block. ok=false means no response is written;
// with ok=true the response is written even when it is nil or empty, as a
// frame with a zero-length body.
type MessageHandler[T any] interface {
	Handle(ctx ConnectionContext[T], msg T) (response []byte, ok bool, err error)
}

// AsyncResult is delivered on an AsyncMessageHandler's result channel once
// the handler's work completes.
type AsyncResult struct {
	Response []byte
	Ok       bool
	Err      error
}

// AsyncMessageHandler handles a decoded message off the reactor thread. The
// returned channel must eventually receive exactly one AsyncResult (and may
// then be closed); the AsyncJobReaper polls it with a bounded wait.
type AsyncMessageHandler[T any] interface {
	Handle(msg T) <-chan AsyncResult
}

// ResponseRefiner transforms a handler's raw response buffer before it is
// framed and written. Refiners run in registration order, synchronously, and
// must not block.
type ResponseRefiner[T any] interface {
	Execute(msg T, response []byte) ([]byte, error)
}

// InvalidKeyHandler is invoked by the reactor loop when a selected key is no
// longer valid (the connection is gone). The server's default implementation
// does nothing: it neither closes the socket nor removes the key from the
// connection table.
type InvalidKeyHandler interface {
	Handle(key ConnKey)
}
