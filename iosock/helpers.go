package iosock

import (
	"context"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sreylindoung/pyhttpclient/dnscache"
)

func contextWithTimeout(d time.Duration) context.Context {
	if d <= 0 {
		return context.Background()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	_ = cancel // Lookup completes well before the parent goroutine returns; nothing to cancel early.
	return ctx
}

func addressFamily(ip net.IP) int {
	if ip.To4() != nil {
		return syscall.AF_INET
	}
	return syscall.AF_INET6
}

func sockaddr(addr dnscache.Addr) syscall.Sockaddr {
	if v4 := addr.IP.To4(); v4 != nil {
		sa := &syscall.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], v4)
		return sa
	}
	sa := &syscall.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa
}

// waitConnect blocks until a non-blocking connect(2) in progress completes
// or timeout elapses, then reports SO_ERROR as the connect result.
func waitConnect(fd int, timeout time.Duration) error {
	millis := -1
	if timeout > 0 {
		millis = int(timeout.Milliseconds())
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, millis)
	if err != nil {
		return err
	}
	if n == 0 {
		return syscall.ETIMEDOUT
	}
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}
