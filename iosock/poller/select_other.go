//go:build !linux && !darwin
// +build !linux,!darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// pollPoller is the portable fallback multiplexer for platforms without a
// native epoll or kqueue binding in this module. It uses poll(2), which
// (unlike select(2)) doesn't need fd_set bitmap bookkeeping and has no
// practical fd-count ceiling, at the cost of being O(n) per Wait call.
type pollPoller struct {
	interest map[int]Interest
}

// New creates a new Poller backed by poll(2).
func New() (Poller, error) {
	return &pollPoller{interest: make(map[int]Interest)}, nil
}

func (p *pollPoller) Add(fd int, interest Interest) error {
	p.interest[fd] = interest
	return nil
}

func (p *pollPoller) Modify(fd int, interest Interest) error {
	p.interest[fd] = interest
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	delete(p.interest, fd)
	return nil
}

func (p *pollPoller) Wait(timeoutMillis int) ([]Event, error) {
	if len(p.interest) == 0 {
		return nil, nil
	}

	fds := make([]unix.PollFd, 0, len(p.interest))
	order := make([]int, 0, len(p.interest))
	for fd, in := range p.interest {
		var mask int16
		if in.Read {
			mask |= unix.POLLIN
		}
		if in.Write {
			mask |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: mask})
		order = append(order, fd)
	}

	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i, pf := range fds {
		if pf.Revents == 0 {
			continue
		}
		out = append(out, Event{
			FD:       order[i],
			Readable: pf.Revents&unix.POLLIN != 0,
			Writable: pf.Revents&unix.POLLOUT != 0,
			Err:      pf.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Close() error {
	return nil
}

// SetNonblock puts fd into non-blocking mode, required before registering
// it with the poller.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
