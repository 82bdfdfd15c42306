//go:build linux

package reader

import "golang.org/x/sys/unix"

// platformReadv issues one vectored, non-blocking read against fd. It skips
// zero-length entries of bufs (an empty header slice when the header is
// already complete) since taking the address of an empty slice's backing
// array is invalid. EAGAIN/EWOULDBLOCK is reported as ErrWouldBlock, not as
// n == 0, so callers never confuse "nothing ready yet" with end-of-stream.
func platformReadv(fd int32, bufs [][]byte) (int, error) {
	iovs := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovs = append(iovs, b)
	}
	if len(iovs) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Readv(int(fd), iovs)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}
