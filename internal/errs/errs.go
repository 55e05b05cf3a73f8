// Package errs implements the error taxonomy from the request manager's
// error surface: a small registry of coded errors, each wrapped with a
// stack-bearing cause via github.com/pkg/errors, so callers can match on
// the taxonomy with errors.Is/As while still seeing the underlying cause
// in %+v output.
package errs

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Code identifies one member of the error taxonomy.
type Code int

const (
	_ Code = iota
	// CodeRequestManagerBusy is raised when the pool is at its connection
	// cap and queue_request's timeout expires before a slot frees up.
	CodeRequestManagerBusy
	// CodeConnectionClosed is raised when queue_request is called after
	// the pool has latched closing.
	CodeConnectionClosed
	// CodeTransport covers DNS failure, connect failure, and unsupported
	// schemes raised out of open_socket.
	CodeTransport
	// CodeTimeout is the inactivity timeout (ETIMEDOUT-equivalent).
	CodeTimeout
	// CodeSocket covers send/recv failures surfaced from the socket
	// adapter once a connection has a live fd.
	CodeSocket
	// CodeTooManyRedirects guards request-level policy's redirect loop;
	// the source has no such guard, but an unbounded resend loop is not
	// an acceptable translation of "follow redirects".
	CodeTooManyRedirects
)

var registry = map[Code]string{
	CodeRequestManagerBusy: "request manager busy: no connection slot available",
	CodeConnectionClosed:   "connection pool is closing",
	CodeTransport:          "transport error",
	CodeTimeout:            "inactivity timeout",
	CodeSocket:             "socket error",
	CodeTooManyRedirects:   "too many redirects",
}

var mu sync.RWMutex

// Register adds or overrides the human-readable message for a code. Mirrors
// the register-once-at-init-time pattern used throughout the corpus's
// coded-error packages; call it from an init() in a package that defines
// its own codes above CodeTooManyRedirects to avoid collisions.
func Register(code Code, message string) {
	mu.Lock()
	defer mu.Unlock()
	registry[code] = message
}

func message(code Code) string {
	mu.RLock()
	defer mu.RUnlock()
	if m, ok := registry[code]; ok {
		return m
	}
	return fmt.Sprintf("error code %d", code)
}

// codedError pairs a taxonomy code with an optional wrapped cause.
type codedError struct {
	code  Code
	cause error
}

func (e *codedError) Error() string {
	if e.cause == nil {
		return message(e.code)
	}
	return fmt.Sprintf("%s: %v", message(e.code), e.cause)
}

func (e *codedError) Unwrap() error { return e.cause }

// CodeOf reports the taxonomy code of err, or 0 if err does not carry one.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 0
}

// New returns a coded error with no underlying cause.
func New(code Code) error {
	return errors.WithStack(&codedError{code: code})
}

// Wrap returns a coded error wrapping cause. If cause is nil, behaves like
// New.
func Wrap(code Code, cause error) error {
	if cause == nil {
		return New(code)
	}
	return errors.WithStack(&codedError{code: code, cause: cause})
}

// Is reports whether err carries the given taxonomy code, looking through
// pkg/errors' stack wrapping and any additional fmt.Errorf("%w", ...) chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
