//go:build darwin
// +build darwin

package poller

import (
	"syscall"
)

// kqueuePoller is a kqueue-based readiness multiplexer for BSD/Darwin.
// Read and write readiness are separate filters in kqueue, so interest
// changes translate into adding/deleting the corresponding filter.
type kqueuePoller struct {
	kqfd   int
	events []syscall.Kevent_t
	// interest tracks what's currently registered per fd so Modify only
	// issues the delta instead of resubmitting both filters every time.
	interest map[int]Interest
}

// New creates a new Poller backed by kqueue.
func New() (Poller, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, err
	}

	return &kqueuePoller{
		kqfd:     kqfd,
		events:   make([]syscall.Kevent_t, 256),
		interest: make(map[int]Interest),
	}, nil
}

func (p *kqueuePoller) changelist(fd int, from, to Interest) []syscall.Kevent_t {
	var changes []syscall.Kevent_t
	if from.Read != to.Read {
		flags := uint16(syscall.EV_DELETE)
		if to.Read {
			flags = syscall.EV_ADD | syscall.EV_ENABLE
		}
		changes = append(changes, syscall.Kevent_t{Ident: uint64(fd), Filter: syscall.EVFILT_READ, Flags: flags})
	}
	if from.Write != to.Write {
		flags := uint16(syscall.EV_DELETE)
		if to.Write {
			flags = syscall.EV_ADD | syscall.EV_ENABLE
		}
		changes = append(changes, syscall.Kevent_t{Ident: uint64(fd), Filter: syscall.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

func (p *kqueuePoller) Add(fd int, interest Interest) error {
	changes := p.changelist(fd, Interest{}, interest)
	p.interest[fd] = interest
	if len(changes) == 0 {
		return nil
	}
	_, err := syscall.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, interest Interest) error {
	changes := p.changelist(fd, p.interest[fd], interest)
	p.interest[fd] = interest
	if len(changes) == 0 {
		return nil
	}
	_, err := syscall.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Remove(fd int) error {
	changes := p.changelist(fd, p.interest[fd], Interest{})
	delete(p.interest, fd)
	if len(changes) == 0 {
		return nil
	}
	_, err := syscall.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(timeoutMillis int) ([]Event, error) {
	var ts *syscall.Timespec
	if timeoutMillis >= 0 {
		ts = &syscall.Timespec{
			Sec:  int64(timeoutMillis / 1000),
			Nsec: int64((timeoutMillis % 1000) * 1000000),
		}
	}

	n, err := syscall.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	byFD := make(map[int]*Event, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		fd := int(e.Ident)
		ev, ok := byFD[fd]
		if !ok {
			ev = &Event{FD: fd}
			byFD[fd] = ev
		}
		switch e.Filter {
		case syscall.EVFILT_READ:
			ev.Readable = true
		case syscall.EVFILT_WRITE:
			ev.Writable = true
		}
		if e.Flags&syscall.EV_EOF != 0 || e.Flags&syscall.EV_ERROR != 0 {
			ev.Err = true
		}
	}

	out := make([]Event, 0, len(byFD))
	for _, ev := range byFD {
		out = append(out, *ev)
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return syscall.Close(p.kqfd)
}

// SetNonblock puts fd into non-blocking mode, required before registering
// it with the poller.
func SetNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
