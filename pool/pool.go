// Package pool implements the connection pool and request manager: a
// global set of Connections keyed by target, partitioned per owning
// thread, with admission control, eviction, and the wait/wakeup discipline
// that lets callers block for a free slot instead of failing outright.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sreylindoung/pyhttpclient/auth"
	"github.com/sreylindoung/pyhttpclient/conn"
	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/internal/errs"
	"github.com/sreylindoung/pyhttpclient/internal/log"
	"github.com/sreylindoung/pyhttpclient/message"
	"github.com/sreylindoung/pyhttpclient/metrics"
	"github.com/sreylindoung/pyhttpclient/target"
)

// ThreadID identifies the logical owner of a set of active connections.
// Go has no first-class "current thread" the way the source platform
// does; the driver assigns one ThreadID to each worker goroutine,
// QueueRequest binds connections to it, and only that worker steps the
// connections ActiveForThread returns for it, which is exactly the
// invariant owner_thread formalizes.
type ThreadID uint64

type threadTarget struct {
	thread ThreadID
	target target.Target
}

// Pool is the connection pool / request manager.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	activeByThreadTarget map[threadTarget]*conn.Connection
	activeByThread       map[ThreadID]map[uint64]*conn.Connection
	ownerThread          map[uint64]ThreadID
	idleByTarget         map[target.Target]map[uint64]*conn.Connection
	idleByID             map[uint64]*conn.Connection

	maxConnections int
	closing        bool

	credentials auth.Store
	dns         *dnscache.Cache
	connCfg     conn.Config

	nextID  atomic.Uint64
	log     log.Logger
	metrics metrics.Recorder
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithCredentials installs the credentials store consulted by the
// request-level policy on a 401 challenge.
func WithCredentials(store auth.Store) Option {
	return func(p *Pool) { p.credentials = store }
}

// WithMetrics installs a metrics recorder; the default is a no-op.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Pool) { p.metrics = r }
}

// New constructs a Pool bounded at maxConnections total (active + idle)
// connections, resolving through dns and configuring each Connection it
// creates with connCfg.
func New(maxConnections int, dns *dnscache.Cache, connCfg conn.Config, opts ...Option) *Pool {
	p := &Pool{
		activeByThreadTarget: make(map[threadTarget]*conn.Connection),
		activeByThread:       make(map[ThreadID]map[uint64]*conn.Connection),
		ownerThread:          make(map[uint64]ThreadID),
		idleByTarget:         make(map[target.Target]map[uint64]*conn.Connection),
		idleByID:             make(map[uint64]*conn.Connection),
		maxConnections:       maxConnections,
		dns:                  dns,
		connCfg:              connCfg,
		log:                  log.Named("pool"),
		metrics:              metrics.NoOp{},
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	if p.connCfg.Metrics == nil {
		p.connCfg.Metrics = p.metrics
	}
	return p
}

// Credentials returns the configured credentials store, or nil if none
// was installed.
func (p *Pool) Credentials() auth.Store { return p.credentials }

// ActiveForThread returns a snapshot of the connections currently bound
// to thread, the set a driver.Worker steps on each pass. The slice is a
// copy; it is safe to range over after the pool's lock is released.
func (p *Pool) ActiveForThread(thread ThreadID) []*conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.activeByThread[thread]
	out := make([]*conn.Connection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Closing reports whether the pool has been told to shut down.
func (p *Pool) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Shutdown marks the pool closing: QueueRequest calls that are waiting
// or arrive afterward fail immediately, and wakes any blocked waiters.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closing = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CloseIdle closes every connection currently sitting idle, e.g. during
// graceful shutdown once active work has drained.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	idle := make([]*conn.Connection, 0, len(p.idleByID))
	for _, c := range p.idleByID {
		idle = append(idle, c)
	}
	p.idleByID = make(map[uint64]*conn.Connection)
	p.idleByTarget = make(map[target.Target]map[uint64]*conn.Connection)
	p.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
}

// QueueRequest binds req to a Connection for (thread, target) - reusing an
// active or idle one, opening a new one, evicting an idle one, or waiting
// for a slot to free up, in that order of preference. timeout <= 0 means
// fail immediately rather than wait; a positive timeout bounds the wait.
func (p *Pool) QueueRequest(thread ThreadID, req message.Request, timeout time.Duration) error {
	tgt, err := target.FromURL(req.URL())
	if err != nil {
		return errs.Wrap(errs.CodeTransport, err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	start := time.Now()
	defer func() { p.metrics.ObserveQueueWait(time.Since(start).Seconds()) }()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closing {
			return errs.New(errs.CodeConnectionClosed)
		}

		key := threadTarget{thread: thread, target: tgt}
		if c, ok := p.activeByThreadTarget[key]; ok {
			if p.connCfg.MaxPipeline > 0 && c.QueueLen() >= p.connCfg.MaxPipeline {
				if timeout <= 0 {
					return errs.New(errs.CodeRequestManagerBusy)
				}
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return errs.New(errs.CodeRequestManagerBusy)
				}
				p.waitTimeout(remaining)
				continue
			}
			c.Enqueue(req)
			return nil
		}

		if idle := p.idleByTarget[tgt]; len(idle) > 0 {
			c := youngest(idle)
			p.moveIdleToActive(c, thread)
			c.Enqueue(req)
			return nil
		}

		if p.activeCount()+len(p.idleByID) < p.maxConnections {
			id := p.nextID.Add(1)
			c := conn.New(id, tgt, p, p.dns, p.connCfg)
			p.activate(c, thread)
			c.Enqueue(req)
			p.metrics.SetActive(float64(p.activeCount()))
			return nil
		}

		if len(p.idleByID) > 0 {
			victim := oldest(p.idleByID)
			p.removeIdle(victim)
			p.mu.Unlock()
			victim.Close()
			p.mu.Lock()
			continue
		}

		if timeout <= 0 {
			return errs.New(errs.CodeRequestManagerBusy)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.New(errs.CodeRequestManagerBusy)
		}
		p.waitTimeout(remaining)
	}
}

// waitTimeout blocks on the pool's condition variable for at most d,
// re-locking p.mu before returning (sync.Cond.Wait's own contract). There
// is no native timed variant of sync.Cond, so a one-shot timer stands in
// for it, broadcasting to unblock this call if nothing else does first.
func (p *Pool) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

// Deactivate implements conn.Owner: a connection with nothing left to do
// calls this on itself. It moves from whichever active set it was in into
// the idle set, unless it has already closed, in which case it is simply
// dropped from the pool's bookkeeping.
func (p *Pool) Deactivate(c *conn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if thread, ok := p.ownerThread[c.ID]; ok {
		delete(p.ownerThread, c.ID)
		delete(p.activeByThreadTarget, threadTarget{thread: thread, target: c.Target})
		if m := p.activeByThread[thread]; m != nil {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(p.activeByThread, thread)
			}
		}
	}

	if !c.Closed() {
		if p.idleByTarget[c.Target] == nil {
			p.idleByTarget[c.Target] = make(map[uint64]*conn.Connection)
		}
		p.idleByTarget[c.Target][c.ID] = c
		p.idleByID[c.ID] = c
	}

	p.metrics.SetActive(float64(p.activeCount()))
	p.metrics.SetIdle(float64(len(p.idleByID)))
	p.cond.Signal()
}

func (p *Pool) activate(c *conn.Connection, thread ThreadID) {
	key := threadTarget{thread: thread, target: c.Target}
	p.activeByThreadTarget[key] = c
	if p.activeByThread[thread] == nil {
		p.activeByThread[thread] = make(map[uint64]*conn.Connection)
	}
	p.activeByThread[thread][c.ID] = c
	p.ownerThread[c.ID] = thread
}

func (p *Pool) moveIdleToActive(c *conn.Connection, thread ThreadID) {
	p.removeIdle(c)
	p.activate(c, thread)
}

func (p *Pool) removeIdle(c *conn.Connection) {
	delete(p.idleByID, c.ID)
	if m := p.idleByTarget[c.Target]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(p.idleByTarget, c.Target)
		}
	}
}

func (p *Pool) activeCount() int {
	n := 0
	for _, m := range p.activeByThread {
		n += len(m)
	}
	return n
}

// youngest returns the idle connection with the largest last_active,
// preferred for reuse because it is most likely still warm at the peer.
func youngest(set map[uint64]*conn.Connection) *conn.Connection {
	var best *conn.Connection
	for _, c := range set {
		if best == nil || c.LastActive().After(best.LastActive()) {
			best = c
		}
	}
	return best
}

// oldest returns the idle connection with the smallest last_active, the
// one eviction sacrifices first when the pool is at capacity.
func oldest(set map[uint64]*conn.Connection) *conn.Connection {
	var worst *conn.Connection
	for _, c := range set {
		if worst == nil || c.LastActive().Before(worst.LastActive()) {
			worst = c
		}
	}
	return worst
}
