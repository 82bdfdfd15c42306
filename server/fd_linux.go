//go:build linux

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// syscallConn is implemented by both *net.TCPListener and *net.TCPConn.
type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// extractFd pulls the raw file descriptor out of a listener or accepted
// connection via SyscallConn, the standard-library-sanctioned escape hatch
// for handing a socket to a hand-rolled epoll instance without giving up
// Accept/Read/Write's normal error handling on the net.Conn side.
func extractFd(c syscallConn) (int32, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int32
	ctrlErr := rc.Control(func(raw uintptr) {
		fd = int32(raw)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// setNonblocking puts fd in non-blocking mode so the reactor's read/write
// syscalls return EAGAIN instead of blocking the single reactor goroutine.
// Go's runtime netpoller already holds accepted connections in
// non-blocking mode internally, but this module bypasses the runtime
// poller for per-connection I/O and must set the flag itself.
func setNonblocking(fd int32) error {
	return unix.SetNonblock(int(fd), true)
}
