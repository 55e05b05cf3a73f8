// Package iosock is the socket I/O adapter the connection state machine
// drives: resolve, connect, optional TLS wrapping, and non-blocking
// send/recv/shutdown over a raw file descriptor that the caller registers
// directly with a poller.Poller.
package iosock

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/internal/errs"
	"github.com/sreylindoung/pyhttpclient/internal/log"
)

// ErrWouldBlock is returned by Send/Recv when the operation could not
// complete without blocking the owner thread. It is not a real error:
// callers fold it into connection_step's readiness bookkeeping rather than
// surfacing it to a Response or Request.
var ErrWouldBlock = errors.New("iosock: would block")

// Socket wraps one outbound TCP connection, plaintext or TLS, as a
// non-blocking file descriptor plus the minimal send/recv/close contract
// the connection state machine needs. A Socket is owned by exactly one
// goroutine for its whole lifetime; none of its methods are safe to call
// concurrently.
type Socket struct {
	fd   int
	file *os.File // owns fd; closed by ShutdownClose
	tls  *tls.Conn
	log  log.Logger
}

// Dial resolves host via cache, tries each candidate address in order (the
// spec's connect fan-out), and returns a connected, non-blocking Socket on
// the first one that succeeds. The dial itself blocks the calling thread,
// same as a DNS-cache miss does; both are expected to be rare relative to
// steady-state send/recv traffic.
func Dial(cache *dnscache.Cache, host string, port int, timeout time.Duration) (*Socket, error) {
	addrs, err := cache.Lookup(contextWithTimeout(timeout), host, port)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSocket, err)
	}

	var lastErr error
	for _, addr := range addrs {
		sock, err := dialOne(addr, timeout)
		if err == nil {
			return sock, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("iosock: no addresses to try")
	}
	return nil, errs.Wrap(errs.CodeSocket, lastErr)
}

func dialOne(addr dnscache.Addr, timeout time.Duration) (*Socket, error) {
	fd, err := syscall.Socket(addressFamily(addr.IP), syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)

	sa := sockaddr(addr)
	err = syscall.Connect(fd, sa)
	if err != nil && err != syscall.EINPROGRESS {
		syscall.Close(fd)
		return nil, err
	}
	if err == syscall.EINPROGRESS {
		if err := waitConnect(fd, timeout); err != nil {
			syscall.Close(fd)
			return nil, err
		}
	}

	file := os.NewFile(uintptr(fd), addr.String())
	return &Socket{fd: fd, file: file, log: log.Named("iosock")}, nil
}

// FD returns the raw file descriptor for registration with a poller.Poller.
// It stays valid, and stable, for the Socket's whole lifetime. After
// WrapTLS the TLS connection does its I/O through a duplicate of this
// descriptor, which refers to the same socket, so readiness reported for
// FD() still tracks the TLS traffic.
func (s *Socket) FD() int { return s.fd }

// WrapTLS performs a blocking TLS handshake over the socket's existing
// descriptor and switches Send/Recv to go through the resulting
// *tls.Conn. cfg.InsecureSkipVerify is left to the caller; supplying a
// RootCAs pool turns peer verification on.
func (s *Socket) WrapTLS(cfg *tls.Config) error {
	// The handshake needs blocking I/O semantics on the underlying fd;
	// net.FileConn duplicates the descriptor, and the duplicate refers to
	// the same socket, so FD() keeps returning the fd a poller registers.
	raw, err := net.FileConn(s.file)
	if err != nil {
		return errs.Wrap(errs.CodeSocket, err)
	}
	tconn := tls.Client(raw, cfg)
	if err := tconn.Handshake(); err != nil {
		return errs.Wrap(errs.CodeSocket, err)
	}
	s.tls = tconn
	return nil
}

// Send writes as much of p as the socket will currently accept without
// blocking. It returns (n, nil) for a partial or full write, (0,
// ErrWouldBlock) if nothing could be written yet, and (n, err) for any
// other failure - n may be positive even alongside a non-nil, non-blocking
// error if the kernel accepted some bytes before failing.
func (s *Socket) Send(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.tls != nil {
		return s.sendTLS(p)
	}
	n, err := syscall.Write(s.fd, p)
	if err != nil {
		if isWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *Socket) sendTLS(p []byte) (int, error) {
	_ = s.tls.SetWriteDeadline(time.Now())
	n, err := s.tls.Write(p)
	if err != nil {
		if isTimeout(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// Recv reads up to len(buf) bytes without blocking. It returns (n, nil)
// for data, (0, ErrWouldBlock) when nothing is available yet, (0, nil) on
// a clean EOF (peer closed its write side), and a non-nil error for any
// other failure.
func (s *Socket) Recv(buf []byte) (int, error) {
	if s.tls != nil {
		return s.recvTLS(buf)
	}
	n, err := syscall.Read(s.fd, buf)
	if err != nil {
		if isWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (s *Socket) recvTLS(buf []byte) (int, error) {
	_ = s.tls.SetReadDeadline(time.Now())
	n, err := s.tls.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, ErrWouldBlock
		}
		if err.Error() == "EOF" {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// ShutdownClose half-closes then closes the socket, swallowing any error:
// by the time a connection calls this it has already decided to discard
// the socket, and a failing shutdown/close carries no information the
// caller can act on.
func (s *Socket) ShutdownClose() {
	if s.tls != nil {
		_ = s.tls.Close()
		_ = s.file.Close()
		return
	}
	_ = syscall.Shutdown(s.fd, syscall.SHUT_RDWR)
	_ = s.file.Close()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINPROGRESS)
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
