// Package pyhttpclient is the library-callable facade: construct one
// Client, submit requests with Do, call Close for a graceful shutdown.
// It wires pool.Pool, driver.Pool, and policy.Policy behind the single
// entry point real callers want, the way the teacher's app.App wires its
// core.Engine behind Run - generalized here to be driven by a caller's
// own goroutine rather than by OS signals.
package pyhttpclient

import (
	"context"
	"net/url"
	"time"

	"github.com/sreylindoung/pyhttpclient/auth"
	"github.com/sreylindoung/pyhttpclient/config"
	"github.com/sreylindoung/pyhttpclient/conn"
	"github.com/sreylindoung/pyhttpclient/dnscache"
	"github.com/sreylindoung/pyhttpclient/driver"
	"github.com/sreylindoung/pyhttpclient/internal/log"
	"github.com/sreylindoung/pyhttpclient/message"
	"github.com/sreylindoung/pyhttpclient/message/wire"
	"github.com/sreylindoung/pyhttpclient/metrics"
	"github.com/sreylindoung/pyhttpclient/policy"
	"github.com/sreylindoung/pyhttpclient/pool"
)

// Client is the top-level handle for the connection pool, its driver
// workers, and request-level policy.
type Client struct {
	cfg     *config.Config
	pool    *pool.Pool
	drivers *driver.Pool
	policy  *policy.Policy
	dns     *dnscache.Cache

	log log.Logger

	cancel context.CancelFunc
}

// Option configures a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	credentials auth.Store
	metrics     metrics.Recorder
	workers     int
	dns         *dnscache.Cache
}

// WithCredentials installs the credentials store request-level policy
// consults on a 401 challenge. Without one, 401 responses are never
// retried.
func WithCredentials(store auth.Store) Option {
	return func(o *clientOptions) { o.credentials = store }
}

// WithMetrics installs a metrics recorder; the default is a no-op.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *clientOptions) { o.metrics = r }
}

// WithWorkers sets how many driver goroutines drive connections
// concurrently. Defaults to 4.
func WithWorkers(n int) Option {
	return func(o *clientOptions) { o.workers = n }
}

// WithDNSCache installs a pre-built resolver cache, e.g. one seeded for
// tests or shared across multiple Clients.
func WithDNSCache(c *dnscache.Cache) Option {
	return func(o *clientOptions) { o.dns = c }
}

// New builds and starts a Client: the connection pool, its driver
// workers, and the policy layer are all live once New returns.
func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.New()
	}
	o := &clientOptions{workers: 4, metrics: metrics.NoOp{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.dns == nil {
		o.dns = dnscache.New()
	}

	connCfg := conn.Config{
		ConnTimeout:       cfg.ConnTimeout,
		InactivityTimeout: cfg.IdleTimeout,
		ContinueWaitMax:   cfg.ContinueWaitMax,
		MaxPipeline:       cfg.MaxPipeline,
		TLSConfig:         cfg.TLS(),
		Metrics:           o.metrics,
	}

	p := pool.New(cfg.MaxConnections, o.dns, connCfg,
		pool.WithCredentials(o.credentials),
		pool.WithMetrics(o.metrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	dp, err := driver.NewPool(ctx, p, o.workers)
	if err != nil {
		// iosock/poller.New fails only when the platform's readiness
		// primitive (epoll/kqueue/poll) is unavailable to the process,
		// e.g. an exhausted fd table; there is no degraded mode to fall
		// back to, so surface it as a panic at construction time rather
		// than returning a Client that can never drive a connection.
		cancel()
		panic(err)
	}

	pol := policy.New(p, dp)

	return &Client{
		cfg:     cfg,
		pool:    p,
		drivers: dp,
		policy:  pol,
		dns:     o.dns,
		log:     log.Named("client"),
		cancel:  cancel,
	}
}

// NewRequest builds a wire.Request for u, applying UserAgent if the
// caller hasn't already set one. Use Do to submit it.
func (c *Client) NewRequest(method string, u *url.URL) *wire.Request {
	resp := wire.NewResponse(method)
	req := wire.NewRequest(method, u, resp)
	if !req.HasHeader("User-Agent") {
		req.SetHeader("User-Agent", c.cfg.UserAgent)
	}
	return req
}

// Do submits req and blocks until request-level policy has finished with
// it - including any redirects or authentication retries - or timeout
// elapses waiting for a connection slot.
func (c *Client) Do(req *wire.Request, timeout time.Duration) error {
	return c.policy.Do(req, timeout)
}

// DNS returns the resolver cache backing this Client's connections, so a
// caller can FlushDNS or inspect it directly.
func (c *Client) DNS() *dnscache.Cache { return c.dns }

// Pool exposes the underlying connection pool for callers that need
// lower-level control (a custom Request implementation bypassing
// wire.Request, for instance).
func (c *Client) Pool() *pool.Pool { return c.pool }

// ThreadFor exposes the driver assignment a caller driving message.Request
// implementations directly (bypassing Do/policy) needs to call
// pool.QueueRequest itself.
func (c *Client) ThreadFor(host string) pool.ThreadID { return c.drivers.ThreadFor(host) }

// Close stops accepting new work, waits for driver workers to drain
// their current pass, and closes every pooled connection - active and
// idle. It does not wait for in-flight requests to complete; callers
// with outstanding Do calls should wait for those to return first.
func (c *Client) Close() error {
	c.pool.Shutdown()
	c.cancel()
	c.drivers.Stop()
	c.pool.Close()
	return nil
}

var _ message.Request = (*wire.Request)(nil)
