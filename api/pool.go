package api

// ObjectPool recycles instances of T between uses so a hot path (accepting
// and closing connections, in this module) does not allocate on every
// cycle. internal/connection.ReaderPool implements this for *reader.
// RequestReader, and internal/connection.Table holds its pool through this
// interface rather than the concrete type.
type ObjectPool[T any] interface {
	// Get returns a ready-to-use instance, recycled if one is available.
	Get() T

	// Put returns obj to the pool for the next caller.
	Put(obj T)
}
