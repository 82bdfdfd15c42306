//go:build linux

package writer

import "golang.org/x/sys/unix"

// platformWrite issues one non-blocking write against fd, retrying on
// EINTR and reporting EAGAIN/EWOULDBLOCK as ErrWouldBlock so callers never
// confuse "socket buffer full" with a real I/O error.
func platformWrite(fd int32, p []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), p)
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
