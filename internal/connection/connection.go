// Package connection owns the live-connection table: the reactor loop's
// map from a connection's key to the per-connection state (its socket, its
// RequestReader, and its outbound writer.Queue) that the dispatcher and
// async reaper need to address a connection without reaching back into the
// reactor loop itself.
package connection

import (
	"net"
	"sync"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/reader"
	"github.com/ashgrove/reactor/internal/writer"
)

// Connection is one accepted socket's reactor-owned state. The *net.TCPConn
// is retained only to keep the kernel socket open and to call Close; all
// actual I/O after accept goes through the raw fd via Reader and Writer.
type Connection[T any] struct {
	Key    api.ConnKey
	Fd     int32
	Reader *reader.RequestReader[T]
	Writer *writer.Queue

	conn *net.TCPConn
}

// Close releases the socket. Safe to call more than once.
func (c *Connection[T]) Close() error {
	return c.conn.Close()
}

// Table is the reactor loop's registry of live connections, safe for
// concurrent use: the reactor goroutine adds/removes entries and looks up
// writer queues to drain, while the async job reaper looks up writer
// queues from its own goroutine to deliver completed results.
type Table[T any] struct {
	mu    sync.RWMutex
	conns map[api.ConnKey]*Connection[T]
	pool  api.ObjectPool[*reader.RequestReader[T]]
}

// NewTable constructs an empty connection table backed by pool for
// RequestReader recycling. pool is typically a *ReaderPool[T], held here
// through the api.ObjectPool interface so Add/Remove exercise the
// abstraction rather than a concrete pool type.
func NewTable[T any](pool api.ObjectPool[*reader.RequestReader[T]]) *Table[T] {
	return &Table[T]{conns: make(map[api.ConnKey]*Connection[T]), pool: pool}
}

// Add registers a newly accepted connection under its fd, constructing its
// RequestReader (from the pool) and Writer.Queue. onNonEmpty/onEmpty are
// forwarded to the writer.Queue so the caller can keep epoll write interest
// in sync with whether there is anything queued to send.
func (t *Table[T]) Add(conn *net.TCPConn, fd int32, onNonEmpty, onEmpty func()) *Connection[T] {
	key := api.ConnKey(fd)
	c := &Connection[T]{
		Key:    key,
		Fd:     fd,
		Reader: t.pool.Get(),
		Writer: writer.NewQueue(fd, onNonEmpty, onEmpty),
		conn:   conn,
	}
	t.mu.Lock()
	t.conns[key] = c
	t.mu.Unlock()
	return c
}

// Remove drops key from the table, returns its RequestReader to the pool,
// and closes the underlying socket. Safe to call on an already-removed
// key, in which case it is a no-op.
func (t *Table[T]) Remove(key api.ConnKey) {
	t.mu.Lock()
	c, ok := t.conns[key]
	if ok {
		delete(t.conns, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.pool.Put(c.Reader)
	_ = c.Close()
}

// Get looks up a connection by key.
func (t *Table[T]) Get(key api.ConnKey) (*Connection[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[key]
	return c, ok
}

// WriterQueue implements dispatch.ConnectionRegistry.
func (t *Table[T]) WriterQueue(key api.ConnKey) (*writer.Queue, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[key]
	if !ok {
		return nil, false
	}
	return c.Writer, true
}

// Len reports how many connections are currently tracked.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// CloseAll closes every tracked connection and empties the table, used on
// server shutdown.
func (t *Table[T]) CloseAll() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[api.ConnKey]*Connection[T])
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
