package driver

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/sreylindoung/pyhttpclient/pool"
)

// Pool runs N Workers concurrently, mirroring the teacher's worker-pool
// shape structurally - a fixed goroutine count pulling from shared
// state - though each Worker here owns a disjoint set of connections
// rather than stealing queued tasks from the others: stealing a
// connection between threads would violate the single-owner invariant
// connection_step depends on (see DESIGN.md).
type Pool struct {
	workers []*Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool starts n Workers against p, each bound to its own ThreadID and
// running until the returned Pool's Stop is called or ctx is canceled.
func NewPool(ctx context.Context, p *pool.Pool, n int) (*Pool, error) {
	if n <= 0 {
		n = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	dp := &Pool{cancel: cancel}

	for i := 0; i < n; i++ {
		w, err := NewWorker(pool.ThreadID(i+1), p)
		if err != nil {
			cancel()
			dp.wg.Wait()
			return nil, err
		}
		dp.workers = append(dp.workers, w)
		dp.wg.Add(1)
		go func(w *Worker) {
			defer dp.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	return dp, nil
}

// ThreadFor maps host to one of this Pool's workers, stably, so repeated
// requests to the same host land on the same ThreadID and can reuse a
// pooled connection instead of opening a new one per worker they happen
// to be assigned to.
func (dp *Pool) ThreadFor(host string) pool.ThreadID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	idx := int(h.Sum32() % uint32(len(dp.workers)))
	return dp.workers[idx].Thread
}

// Stop cancels every Worker's context and waits for its goroutine to
// return.
func (dp *Pool) Stop() {
	dp.cancel()
	dp.wg.Wait()
}
