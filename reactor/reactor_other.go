//go:build !linux

package reactor

// New returns ErrUnsupportedPlatform; only the Linux epoll backend is
// implemented. Porting to kqueue or IOCP is out of scope for this module.
func New(maxBatch int) (Reactor, error) {
	return nil, ErrUnsupportedPlatform
}
