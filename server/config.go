// Package server assembles the framing, dispatch, and connection-table
// components into a running ReactorLoop: a single goroutine driving epoll
// readiness against accepted connections, paired with an AsyncJobReaper
// goroutine, both supervised through an errgroup.
package server

import (
	"time"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/applog"
	"github.com/ashgrove/reactor/internal/dispatch"
	"github.com/ashgrove/reactor/internal/frame"
)

// Config holds every setting a Server[T] needs before Start(). Built up
// through functional Options and frozen once Start() is called.
type Config[T any] struct {
	ListenAddr         string
	HeaderSize         int
	MaxBodyBytes       uint32
	AsyncPollTimeout   time.Duration
	ReaderPoolCapacity int
	MaxEpollBatch      int
	Logger             applog.Logger
	InvalidKeyHandler  api.InvalidKeyHandler

	SyncHandler  api.MessageHandler[T]
	AsyncHandler api.AsyncMessageHandler[T]
	Refiners     []api.ResponseRefiner[T]
}

// DefaultListenAddr matches the wire-format default: IPv4 any-address on
// port 12509.
const DefaultListenAddr = ":12509"

func defaultConfig[T any]() Config[T] {
	return Config[T]{
		ListenAddr:         DefaultListenAddr,
		HeaderSize:         frame.DefaultHeaderSize,
		MaxBodyBytes:       frame.DefaultMaxBodyBytes,
		AsyncPollTimeout:   dispatch.DefaultPollTimeout,
		ReaderPoolCapacity: 1024,
		MaxEpollBatch:      128,
		Logger:             applog.Default(),
		InvalidKeyHandler:  dropInvalidKey{},
	}
}

// dropInvalidKey is the default InvalidKeyHandler: a no-op. When the reactor
// loop calls it the key is already absent from the connection table; when
// the dispatcher or the async reaper calls it (a full writer queue, a failed
// refinement) the connection stays open and registered.
type dropInvalidKey struct{}

func (dropInvalidKey) Handle(api.ConnKey) {}

// Option mutates a Config[T] during construction.
type Option[T any] func(*Config[T])

// WithListenAddr overrides the address Start() listens on.
func WithListenAddr[T any](addr string) Option[T] {
	return func(c *Config[T]) { c.ListenAddr = addr }
}

// WithHeaderSize overrides the big-endian length-prefix width, in bytes.
func WithHeaderSize[T any](n int) Option[T] {
	return func(c *Config[T]) { c.HeaderSize = n }
}

// WithMaxBodyBytes overrides the largest body a frame's header may declare,
// and the size of every connection's read buffers.
func WithMaxBodyBytes[T any](n uint32) Option[T] {
	return func(c *Config[T]) { c.MaxBodyBytes = n }
}

// WithAsyncPollTimeout overrides how long the AsyncJobReaper waits on a
// pending result before re-queueing the job at the tail.
func WithAsyncPollTimeout[T any](d time.Duration) Option[T] {
	return func(c *Config[T]) { c.AsyncPollTimeout = d }
}

// WithReaderPoolCapacity overrides how many RequestReaders the connection
// pool keeps ready for recycling between accepted connections.
func WithReaderPoolCapacity[T any](n int) Option[T] {
	return func(c *Config[T]) { c.ReaderPoolCapacity = n }
}

// WithLogger overrides the structured logger every component uses.
func WithLogger[T any](l applog.Logger) Option[T] {
	return func(c *Config[T]) { c.Logger = l }
}

// WithInvalidKeyHandler overrides what happens when the reactor loop or the
// async reaper addresses a connection key that is no longer live.
func WithInvalidKeyHandler[T any](h api.InvalidKeyHandler) Option[T] {
	return func(c *Config[T]) { c.InvalidKeyHandler = h }
}

// WithHandler registers a synchronous message handler. Mutually exclusive
// in effect with WithAsyncHandler: if both are set, the async handler takes
// priority for every message (SPEC_FULL.md §9).
func WithHandler[T any](h api.MessageHandler[T]) Option[T] {
	return func(c *Config[T]) { c.SyncHandler = h }
}

// WithAsyncHandler registers an asynchronous message handler.
func WithAsyncHandler[T any](h api.AsyncMessageHandler[T]) Option[T] {
	return func(c *Config[T]) { c.AsyncHandler = h }
}

// WithResponseRefiners appends to the ordered chain a handler's raw
// response passes through before framing.
func WithResponseRefiners[T any](refiners ...api.ResponseRefiner[T]) Option[T] {
	return func(c *Config[T]) { c.Refiners = append(c.Refiners, refiners...) }
}
