//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollReactor implements Reactor using Linux epoll(7) plus an eventfd used
// purely to unblock Wait from another goroutine (the async job reaper).
type epollReactor struct {
	epfd     int
	wakeFd   int
	maxBatch int
}

// New constructs the platform reactor. maxBatch bounds how many events a
// single Wait call can return.
func New(maxBatch int) (Reactor, error) {
	if maxBatch <= 0 {
		maxBatch = 128
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	r := &epollReactor{epfd: epfd, wakeFd: wakeFd, maxBatch: maxBatch}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: register wakeup fd: %w", err)
	}
	return r, nil
}

func toEpollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Add(fd int32, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: fd}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Modify(fd int32, interest Interest) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: fd}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Remove(fd int32) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	dst = dst[:0]
	raw := make([]unix.EpollEvent, r.maxBatch)

	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := raw[i]
		if int(ev.Fd) == r.wakeFd {
			r.drainWakeup()
			continue
		}
		var interest Interest
		if ev.Events&unix.EPOLLIN != 0 {
			interest |= Read
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			interest |= Write
		}
		dst = append(dst, Event{
			Fd:    ev.Fd,
			Ready: interest,
			Error: ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return dst, nil
}

func (r *epollReactor) drainWakeup() {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (r *epollReactor) Wakeup() error {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(r.wakeFd, one)
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("reactor: wakeup write: %w", err)
	}
	return nil
}

func (r *epollReactor) Close() error {
	unix.Close(r.wakeFd)
	return unix.Close(r.epfd)
}
