//go:build !linux

package writer

import "github.com/ashgrove/reactor/reactor"

// platformWrite has no portable implementation outside the Linux epoll
// backend this server runs on.
func platformWrite(fd int32, p []byte) (int, error) {
	return 0, reactor.ErrUnsupportedPlatform
}
