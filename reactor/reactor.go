// Package reactor provides the platform poll-mode event multiplexer the
// server's single event loop drives. It wraps the OS readiness-notification
// facility (epoll on Linux) behind a small interface so the reactor loop
// itself stays free of syscall details.
package reactor

import "errors"

// ErrUnsupportedPlatform is returned by New on platforms without a reactor
// implementation.
var ErrUnsupportedPlatform = errors.New("reactor: platform not supported")

// Interest is a bitmask of the readiness events a registration cares about.
type Interest uint8

const (
	Read  Interest = 1 << 0
	Write Interest = 1 << 1
)

// Event reports a readiness notification for one registered descriptor.
type Event struct {
	Fd       int32
	Ready    Interest
	Error    bool // peer error or hangup; the server closes the connection
}

// Reactor is the minimal epoll-like interface the reactor loop needs:
// register a descriptor with an initial interest set, flip that interest
// set later without losing edge state, and wait for a batch of readiness
// events.
type Reactor interface {
	// Add registers fd for the given interest set.
	Add(fd int32, interest Interest) error
	// Modify changes the interest set for an already-registered fd.
	Modify(fd int32, interest Interest) error
	// Remove stops watching fd. Safe to call on an fd that was never added.
	Remove(fd int32) error
	// Wait blocks until at least one event is ready, a previously posted
	// Wakeup call returns, or timeoutMs elapses (timeoutMs < 0 blocks
	// indefinitely). It appends ready events into dst[:0] and returns the
	// resulting slice.
	Wait(dst []Event, timeoutMs int) ([]Event, error)
	// Wakeup causes a blocked Wait to return promptly. Used by the async
	// job reaper (a different goroutine) after it mutates reactor-owned
	// state so the reactor does not miss the edge.
	Wakeup() error
	// Close releases the underlying OS resource.
	Close() error
}
