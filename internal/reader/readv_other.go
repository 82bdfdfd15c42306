//go:build !linux

package reader

import "github.com/ashgrove/reactor/reactor"

// platformReadv has no portable implementation outside the Linux epoll
// backend this server runs on.
func platformReadv(fd int32, bufs [][]byte) (int, error) {
	return 0, reactor.ErrUnsupportedPlatform
}
