// Package dnscache memoizes address resolution per (host, port). Lookups
// racing on the same key are allowed to duplicate resolver work rather
// than serialize on it - harmless beyond the wasted lookup, and it keeps
// the cache lock out of the resolver's hands.
package dnscache

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/sreylindoung/pyhttpclient/internal/log"
)

// Addr is one resolved candidate for a (host, port) pair.
type Addr struct {
	IP   net.IP
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// Resolver is the collaborator dnscache delegates actual lookups to.
// net.DefaultResolver (a *net.Resolver) satisfies it directly.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type key struct {
	host string
	port int
}

// Cache is a process-wide memoization of (host, port) -> addresses. The
// zero value is not usable; construct with New.
type Cache struct {
	mu       sync.RWMutex
	entries  map[key][]Addr
	resolver Resolver
	log      log.Logger
}

// New creates a Cache using net.DefaultResolver unless overridden with
// WithResolver.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[key][]Addr),
		resolver: net.DefaultResolver,
		log:      log.Named("dnscache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithResolver overrides the underlying resolver, e.g. to inject a test
// double or a resolver bound to a specific nameserver.
func WithResolver(r Resolver) Option {
	return func(c *Cache) { c.resolver = r }
}

// Lookup returns the cached addresses for (host, port), resolving and
// populating the cache on a miss. The lock is not held across the actual
// resolver call.
func (c *Cache) Lookup(ctx context.Context, host string, port int) ([]Addr, error) {
	k := key{host: host, port: port}

	c.mu.RLock()
	addrs, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return addrs, nil
	}

	ipAddrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ipAddrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}

	addrs = make([]Addr, 0, len(ipAddrs))
	for _, ip := range ipAddrs {
		addrs = append(addrs, Addr{IP: ip.IP, Port: port})
	}

	c.mu.Lock()
	c.entries[k] = addrs
	c.mu.Unlock()

	c.log.WithField("host", host).WithField("port", port).Debug("resolved and cached")
	return addrs, nil
}

// Flush empties the cache.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[key][]Addr)
	c.mu.Unlock()
}
