// Package conn implements the per-connection state machine: one instance
// per live TCP or TLS connection to a target, owning the socket, the
// request/response pipeline, and the phase of whatever exchange is
// currently in flight. A Connection is single-threaded - at most one
// goroutine, its owner, ever calls Step or any of the other stepping
// methods on it at a time. Only socket and closedFlag, guarded by mu, may
// be touched from another goroutine (see Kill).
package conn

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/internal/errs"
	"github.com/sreylindoung/pyhttpclient/internal/log"
	"github.com/sreylindoung/pyhttpclient/iobuf"
	"github.com/sreylindoung/pyhttpclient/iosock"
	"github.com/sreylindoung/pyhttpclient/message"
	"github.com/sreylindoung/pyhttpclient/metrics"
	"github.com/sreylindoung/pyhttpclient/target"
)

// Mode is request_mode: the phase of the current send-side exchange.
type Mode int

const (
	// Ready: no request is currently being sent; the head of
	// request_queue, if any, is eligible to start.
	Ready Mode = iota
	// BodyWaiting: headers are sent, Expect: 100-continue is pending, and
	// the body has not started yet.
	BodyWaiting
	// BodySending: the body is being pulled from the current request and
	// appended to send_buffer.
	BodySending
	// CloseWait: no new requests will start; the connection closes once
	// outstanding responses drain.
	CloseWait
)

// Owner is the narrow back-reference a Connection holds into whatever
// manages it, used only to hand itself back once idle. It exists so conn
// never imports the pool package that constructs and indexes Connections.
type Owner interface {
	Deactivate(c *Connection)
}

// Config bounds the timing behavior of a Connection.
type Config struct {
	ChunkSize         int
	ConnTimeout       time.Duration // dial/TLS handshake deadline
	InactivityTimeout time.Duration // 0 disables the idle timeout
	ContinueWaitMax   time.Duration
	TLSConfig         *tls.Config
	Metrics           metrics.Recorder
	// MaxPipeline caps how many requests may sit in request_queue
	// waiting to start; 0 means unbounded. Enforced by the pool before
	// calling Enqueue, not by Connection itself.
	MaxPipeline int
}

// Wait is connection_step's return value: which directions, if any, the
// driver should include this connection's fd in its next readiness wait.
type Wait struct {
	FD    int // -1 when the connection is not waiting on I/O at all
	Read  bool
	Write bool
}

func (w Wait) Blocked() bool { return w.FD >= 0 && (w.Read || w.Write) }

// Connection is one pooled HTTP/1.1 connection to a target.
type Connection struct {
	ID     uint64
	Target target.Target

	owner Owner
	dns   *dnscache.Cache
	cfg   Config
	log   log.Logger

	mu         sync.Mutex // guards socket and closedFlag only
	socket     *iosock.Socket
	closedFlag bool

	lastActive time.Time
	lastRW     time.Time

	requestQueue []message.Request
	currentReq   message.Request

	// pendingQueue/currentPending pair a Request with the Response that
	// was obtained from it at _start_request time, so the request's
	// Finished hook can fire once that Response completes even though
	// the request itself was detached from current_request long ago
	// (the response may still be outstanding well after the request's
	// own bytes finished sending, under pipelining).
	pendingQueue   []pending
	currentPending *pending

	sendBuf iobuf.SendBuffer
	recvBuf iobuf.RecvBuffer

	mode              Mode
	continueWaitStart time.Time

	protocol string
	recvErr  error
	recvEOF  bool
}

// New constructs an idle, socket-less Connection. The pool assigns id and
// binds owner before handing it back to a caller.
func New(id uint64, tgt target.Target, owner Owner, dns *dnscache.Cache, cfg Config) *Connection {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024
	}
	if cfg.ContinueWaitMax <= 0 {
		cfg.ContinueWaitMax = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoOp{}
	}
	return &Connection{
		ID:         id,
		Target:     tgt,
		owner:      owner,
		dns:        dns,
		cfg:        cfg,
		log:        log.Named("conn").WithField("conn", id),
		lastActive: time.Now(),
	}
}

// Enqueue appends a request to this connection's pending queue. Called by
// the pool while holding the binding that makes this the request's
// connection; safe to call before the connection has ever stepped.
func (c *Connection) Enqueue(req message.Request) {
	req.SetConnection(c.ID)
	c.requestQueue = append(c.requestQueue, req)
}

// QueueLen reports how many requests are queued but not yet started, the
// value the pool checks against Config.MaxPipeline before adding another.
func (c *Connection) QueueLen() int {
	return len(c.requestQueue)
}

// pending pairs a Request with the Response it produced, tracked together
// so the Request's Finished hook can fire once that Response's exchange
// concludes.
type pending struct {
	req  message.Request
	resp message.Response
}

// Idle reports whether this connection has nothing in flight and nothing
// queued - the condition under which the pool may treat it as reusable or
// evictable.
func (c *Connection) Idle() bool {
	return c.currentReq == nil && c.currentPending == nil && len(c.requestQueue) == 0
}

// LastActive is read by the pool's idle-selection and eviction sort; both
// only touch it while the connection sits in idle_by_target/idle_by_id,
// i.e. while no owner thread is stepping it.
func (c *Connection) LastActive() time.Time { return c.lastActive }

// Closed reports whether this connection has latched closed_flag, either
// through close() or a cross-thread Kill. A closed connection is never
// reused; the pool discards it instead of returning it to the idle set.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedFlag
}

// Step is connection_step: advance this connection's send and receive
// phases as far as possible without blocking, looping until either
// nothing more can be done without I/O or the connection goes idle.
func (c *Connection) Step() (Wait, error) {
	for {
		c.lastActive = time.Now()

		if len(c.requestQueue) > 0 && c.mode == Ready {
			head := c.requestQueue[0]
			if c.currentPending == nil || message.IsIdempotent(head.Method()) {
				c.requestQueue = c.requestQueue[1:]
				c.startRequest(head)
			}
		}

		if c.currentReq == nil && c.currentPending == nil {
			if c.mode == CloseWait {
				c.closeLocked(nil)
			}
			c.owner.Deactivate(c)
			return Wait{FD: -1}, nil
		}

		if c.socket == nil {
			if err := c.openSocket(); err != nil {
				return Wait{FD: -1}, err
			}
		}

		wbusy, writeFD, sendDone, err := c.stepSend()
		if err != nil {
			return Wait{FD: -1}, err
		}
		if sendDone {
			continue
		}

		rbusy, readFD, recvDone, err := c.stepRecv()
		if err != nil {
			return Wait{FD: -1}, err
		}
		if recvDone {
			continue
		}

		fd := writeFD
		if fd < 0 {
			fd = readFD
		}
		return Wait{FD: fd, Read: rbusy, Write: wbusy}, nil
	}
}

func (c *Connection) checkInactivity() error {
	if c.cfg.InactivityTimeout <= 0 {
		return nil
	}
	if time.Since(c.lastRW) > c.cfg.InactivityTimeout {
		return errs.New(errs.CodeTimeout)
	}
	return nil
}
