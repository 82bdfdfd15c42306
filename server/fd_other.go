//go:build !linux

package server

import (
	"syscall"

	"github.com/ashgrove/reactor/reactor"
)

type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// extractFd and setNonblocking have no portable implementation outside the
// Linux epoll backend this server runs on.
func extractFd(c syscallConn) (int32, error) {
	return 0, reactor.ErrUnsupportedPlatform
}

func setNonblocking(fd int32) error {
	return reactor.ErrUnsupportedPlatform
}
