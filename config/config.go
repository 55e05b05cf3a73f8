// Package config holds the tunables shared by the pool, connections, and
// driver, built the way the teacher's own config.New() does - a plain
// struct with sane defaults - generalized with functional options since
// this module is a library, not a flag-parsing binary.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"
)

// Config bounds the engine's resource use and default request framing.
type Config struct {
	// MaxConnections caps the pool's total active+idle connection count.
	MaxConnections int
	// CACerts, when set, is used to build a TLS peer-verification pool
	// instead of the system roots. Left nil, TLS dials use InsecureSkipVerify
	// unless the caller supplies its own tls.Config.
	CACerts *x509.CertPool
	// UserAgent is applied to requests that don't already carry one.
	UserAgent string
	// IdleTimeout is the per-connection inactivity timeout; 0 disables it.
	IdleTimeout time.Duration
	// ConnTimeout bounds DNS resolution plus the TCP/TLS handshake.
	ConnTimeout time.Duration
	// ContinueWaitMax bounds how long a connection holds a request's body
	// back waiting for a 100-continue interim response.
	ContinueWaitMax time.Duration
	// MaxPipeline caps how many requests may be queued-but-unsent on a
	// single connection at once, the client-side mirror of the teacher's
	// PipelineConfig.MaxPipeline.
	MaxPipeline int
	// TLSConfig, when set, overrides the tls.Config built from CACerts.
	TLSConfig *tls.Config
}

// Option configures a Config at construction time.
type Option func(*Config)

func WithMaxConnections(n int) Option        { return func(c *Config) { c.MaxConnections = n } }
func WithCACerts(pool *x509.CertPool) Option { return func(c *Config) { c.CACerts = pool } }
func WithUserAgent(ua string) Option         { return func(c *Config) { c.UserAgent = ua } }
func WithIdleTimeout(d time.Duration) Option { return func(c *Config) { c.IdleTimeout = d } }
func WithConnTimeout(d time.Duration) Option { return func(c *Config) { c.ConnTimeout = d } }
func WithContinueWaitMax(d time.Duration) Option {
	return func(c *Config) { c.ContinueWaitMax = d }
}
func WithMaxPipeline(n int) Option     { return func(c *Config) { c.MaxPipeline = n } }
func WithTLSConfig(t *tls.Config) Option { return func(c *Config) { c.TLSConfig = t } }

// New builds a Config with the documented defaults, then applies opts.
func New(opts ...Option) *Config {
	c := &Config{
		MaxConnections:  100,
		UserAgent:       "pyhttpclient/1.0 (+request-manager)",
		IdleTimeout:     90 * time.Second,
		ConnTimeout:     30 * time.Second,
		ContinueWaitMax: 60 * time.Second,
		MaxPipeline:     64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TLS builds the *tls.Config connections should dial with: the explicit
// override if one was set, otherwise a config rooted at CACerts when
// present, otherwise nil (the caller accepts the default insecure
// behavior documented on Config.CACerts).
func (c *Config) TLS() *tls.Config {
	if c.TLSConfig != nil {
		return c.TLSConfig
	}
	if c.CACerts != nil {
		return &tls.Config{RootCAs: c.CACerts}
	}
	return nil
}

// LoadCACerts reads a PEM bundle from path into an *x509.CertPool
// suitable for WithCACerts.
func LoadCACerts(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(data)
	return pool, nil
}
