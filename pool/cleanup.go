package pool

import (
	"time"

	"github.com/sreylindoung/pyhttpclient/conn"
)

// IdleCleanup detaches idle connections that have been inactive longer
// than maxInactive and closes them. Closing happens outside the pool
// lock: an idle connection has no owner thread, so Close is safe to call
// without it, and holding the lock across socket teardown would stall
// every other pool operation for no reason.
func (p *Pool) IdleCleanup(maxInactive time.Duration) {
	cutoff := time.Now().Add(-maxInactive)

	p.mu.Lock()
	var stale []*conn.Connection
	for _, c := range p.idleByID {
		if c.LastActive().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		p.removeIdle(c)
	}
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// ActiveCleanup removes active connections that have been inactive longer
// than maxInactive from pool bookkeeping, wakes any QueueRequest callers
// waiting for a slot, and kills the stale connections outside the lock.
// Kill rather than Close: an active connection still has an owner thread,
// so only the cross-thread-safe teardown path may touch it here.
func (p *Pool) ActiveCleanup(maxInactive time.Duration) {
	cutoff := time.Now().Add(-maxInactive)

	p.mu.Lock()
	var stale []*conn.Connection
	for thread, m := range p.activeByThread {
		for id, c := range m {
			if c.LastActive().Before(cutoff) {
				stale = append(stale, c)
				delete(m, id)
				delete(p.ownerThread, id)
				delete(p.activeByThreadTarget, threadTarget{thread: thread, target: c.Target})
			}
		}
		if len(m) == 0 {
			delete(p.activeByThread, thread)
		}
	}
	if len(stale) > 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	for _, c := range stale {
		c.Kill()
	}
}

// Close latches closing and drives both cleanups at a zero threshold
// until every connection the pool knows about has drained.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closing = true
	p.cond.Broadcast()
	p.mu.Unlock()

	for {
		p.IdleCleanup(0)
		p.ActiveCleanup(0)

		p.mu.Lock()
		empty := len(p.idleByID) == 0 && len(p.activeByThread) == 0
		p.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// FlushDNS empties the shared DNS cache every connection resolves
// through.
func (p *Pool) FlushDNS() {
	p.dns.Flush()
}
