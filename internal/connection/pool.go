package connection

import (
	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/concurrency"
	"github.com/ashgrove/reactor/internal/reader"
)

// ReaderPool recycles RequestReaders across connection lifetimes so the
// header and scratch buffers they own (sized to the configured maximum
// body, potentially megabytes) are allocated once per pool slot rather
// than once per accepted connection. Backed by the single-producer,
// single-consumer concurrency.RingBuffer, which is sufficient because Get
// and Put are only called from the reactor goroutine.
// ReaderPool implements api.ObjectPool[*reader.RequestReader[T]]; Table
// holds it through that interface rather than the concrete type.
type ReaderPool[T any] struct {
	ring    *concurrency.RingBuffer[*reader.RequestReader[T]]
	factory api.MessageFactory[T]
	headerN int
	maxBody uint32
}

// NewReaderPool constructs a pool bounded at capacity slots, rounded up to a
// power of two (at least 2) by the underlying ring buffer. Exceeding
// capacity is not an error: Put simply lets the surplus reader be
// collected instead of recycled.
func NewReaderPool[T any](capacity int, factory api.MessageFactory[T], headerSize int, maxBody uint32) *ReaderPool[T] {
	return &ReaderPool[T]{
		ring:    concurrency.NewRingBuffer[*reader.RequestReader[T]](uint64(capacity)),
		factory: factory,
		headerN: headerSize,
		maxBody: maxBody,
	}
}

// Get returns a ready-to-use RequestReader, recycled from the pool if one
// is available or freshly allocated otherwise.
func (p *ReaderPool[T]) Get() *reader.RequestReader[T] {
	if r, ok := p.ring.Dequeue(); ok {
		return r
	}
	return reader.NewRequestReader[T](p.factory, p.headerN, p.maxBody)
}

// Put resets r and returns it to the pool for the next accepted
// connection. Safe to call with a reader still mid-frame; Reset discards
// that in-progress state since the connection it belonged to is closing.
func (p *ReaderPool[T]) Put(r *reader.RequestReader[T]) {
	r.Reset()
	p.ring.Enqueue(r)
}

// Compile-time check that ReaderPool satisfies api.ObjectPool for some
// instantiation of T; since the implementation is structural in T, this
// holds for every T.
var _ api.ObjectPool[*reader.RequestReader[int]] = (*ReaderPool[int])(nil)
