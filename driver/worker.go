// Package driver implements the request driver: the non-blocking I/O
// loop that advances many pooled connections concurrently under a
// single goroutine using readiness multiplexing, the Go analogue of
// spec.md's per-thread driver loop.
package driver

import (
	"context"
	"time"

	"github.com/sreylindoung/pyhttpclient/internal/log"
	"github.com/sreylindoung/pyhttpclient/iosock/poller"
	"github.com/sreylindoung/pyhttpclient/pool"
)

// idlePoll bounds how long Wait blocks when no connection reported a
// blocking fd. A connection with a freshly queued request but no socket
// open yet has nothing to register with the poller, so a worker with an
// otherwise-idle fd set still needs to come back and call Step again
// before too long; this is a deliberate bounded-poll simplification in
// place of a dedicated per-thread wakeup channel (see DESIGN.md).
const idlePoll = 20 * time.Millisecond

// Worker is one goroutine's drive loop: it owns a disjoint set of active
// connections, those bound to its ThreadID in the pool, and repeatedly
// steps each one, parking in a single poller.Wait call across all of
// their blocking fds between passes.
type Worker struct {
	Thread pool.ThreadID

	pool   *pool.Pool
	poller poller.Poller
	log    log.Logger

	registered map[int]poller.Interest
}

// NewWorker builds a Worker bound to thread, backed by its own readiness
// multiplexer. Pollers are not safe for concurrent Wait calls, so each
// worker gets its own rather than sharing one across threads.
func NewWorker(thread pool.ThreadID, p *pool.Pool) (*Worker, error) {
	pl, err := poller.New()
	if err != nil {
		return nil, err
	}
	return &Worker{
		Thread:     thread,
		pool:       p,
		poller:     pl,
		log:        log.Named("driver").WithField("thread", uint64(thread)),
		registered: make(map[int]poller.Interest),
	}, nil
}

// Run drives this worker's connections until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	defer w.poller.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.stepOnce()
	}
}

// stepOnce steps every connection currently active on this thread once,
// reconciles the poller's registrations against what each reported, and
// waits for the next readiness event (or the idle-poll timeout).
func (w *Worker) stepOnce() {
	conns := w.pool.ActiveForThread(w.Thread)

	seen := make(map[int]bool, len(conns))
	anyBlocked := false
	for _, c := range conns {
		wait, err := c.Step()
		if err != nil {
			w.log.WithField("conn", c.ID).WithError(err).Warn("connection step failed")
			continue
		}
		if !wait.Blocked() {
			continue
		}
		seen[wait.FD] = true
		anyBlocked = true
		w.register(wait.FD, poller.Interest{Read: wait.Read, Write: wait.Write})
	}

	for fd := range w.registered {
		if !seen[fd] {
			w.unregister(fd)
		}
	}

	if !anyBlocked && len(w.registered) == 0 {
		time.Sleep(idlePoll)
		return
	}
	if _, err := w.poller.Wait(int(idlePoll / time.Millisecond)); err != nil {
		// Poller-level errors resurface per-connection on the next Step
		// call (a dead fd fails its own read/write syscall); there is
		// nothing actionable here beyond retrying.
		w.log.WithError(err).Debug("poller wait error")
	}
}

func (w *Worker) register(fd int, interest poller.Interest) {
	if cur, ok := w.registered[fd]; ok {
		if cur == interest {
			return
		}
		w.poller.Modify(fd, interest)
	} else {
		w.poller.Add(fd, interest)
	}
	w.registered[fd] = interest
}

func (w *Worker) unregister(fd int) {
	if _, ok := w.registered[fd]; !ok {
		return
	}
	w.poller.Remove(fd)
	delete(w.registered, fd)
}
