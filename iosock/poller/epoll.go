//go:build linux
// +build linux

package poller

import (
	"syscall"
)

// epollPoller is an epoll-based readiness multiplexer for Linux. It
// watches EPOLLIN/EPOLLOUT independently per fd so the connection step
// function can ask for exactly the direction it is blocked on.
type epollPoller struct {
	epfd   int
	events []syscall.EpollEvent
}

// New creates a new Poller backed by epoll.
func New() (Poller, error) {
	epfd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, err
	}

	return &epollPoller{
		epfd:   epfd,
		events: make([]syscall.EpollEvent, 256),
	}, nil
}

func interestMask(i Interest) uint32 {
	var m uint32
	if i.Read {
		m |= uint32(syscall.EPOLLIN) | 0x2000 // EPOLLRDHUP: detect peer half-close
	}
	if i.Write {
		m |= uint32(syscall.EPOLLOUT)
	}
	return m
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	ev := syscall.EpollEvent{Events: interestMask(interest), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	ev := syscall.EpollEvent{Events: interestMask(interest), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	err := syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
	if err == syscall.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeoutMillis int) ([]Event, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, Event{
			FD:       int(e.Fd),
			Readable: e.Events&(uint32(syscall.EPOLLIN)|0x2000) != 0,
			Writable: e.Events&uint32(syscall.EPOLLOUT) != 0,
			Err:      e.Events&(uint32(syscall.EPOLLERR)|uint32(syscall.EPOLLHUP)) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return syscall.Close(p.epfd)
}

// SetNonblock puts fd into non-blocking mode, required before registering
// it with the poller.
func SetNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
