// Package dnscache implements a resolve-then-dial helper that caches DNS
// resolutions, adapted from the teacher's dnscache package. Unlike the
// teacher's version — which cached the dial's resulting remote address
// after connecting — this package resolves first and dials the resolved IP
// directly, so the same address that is checked for SSRF is the address
// the client actually connects to (closing the check-then-connect gap
// noted in the teacher's own checkForBlacklisting).
package dnscache

import (
	"context"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const refreshAfter = 5 * time.Minute

// IPGuard is called with every resolved address before it is dialed; it
// should return an error to reject the address (e.g. the internal/ssrf
// package's CheckResolvedIP).
type IPGuard func(net.IP) error

// Cache wraps net.Resolver with an LRU cache of resolved addresses and an
// SSRF-style guard applied to every resolution.
type Cache struct {
	resolver *net.Resolver
	guard    IPGuard
	cache    *lru.Cache
}

type record struct {
	ips        []net.IP
	err        error
	resolvedAt time.Time
}

// New builds a Cache with room for maxEntries hostnames. If guard is nil,
// no address is rejected.
func New(maxEntries int, guard IPGuard) (*Cache, error) {
	c, err := lru.New(maxEntries)
	if err != nil {
		return nil, err
	}
	if guard == nil {
		guard = func(net.IP) error { return nil }
	}
	return &Cache{resolver: net.DefaultResolver, guard: guard, cache: c}, nil
}

// Resolve returns the cached or freshly looked-up addresses for host,
// having already applied the IPGuard to each of them.
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if v, ok := c.cache.Get(host); ok {
		rec := v.(record)
		if time.Since(rec.resolvedAt) < refreshAfter {
			return rec.ips, rec.err
		}
	}
	return c.lookup(ctx, host)
}

func (c *Cache) lookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		c.cache.Add(host, record{err: err, resolvedAt: time.Now()})
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if gerr := c.guard(a.IP); gerr != nil {
			err = fmt.Errorf("address %v for host %q rejected: %w", a.IP, host, gerr)
			c.cache.Add(host, record{err: err, resolvedAt: time.Now()})
			return nil, err
		}
		ips = append(ips, a.IP)
	}
	c.cache.Add(host, record{ips: ips, resolvedAt: time.Now()})
	return ips, nil
}

// DialContext returns a dial function suitable for http.Transport.DialContext
// that resolves through this cache before connecting, falling through to
// the standard dialer for the actual TCP connect against the resolved IP.
func (c *Cache) DialContext(base *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if base == nil {
		base = &net.Dialer{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if ip := net.ParseIP(host); ip != nil {
			if gerr := c.guard(ip); gerr != nil {
				return nil, gerr
			}
			return base.DialContext(ctx, network, addr)
		}
		ips, err := c.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no addresses found for host %q", host)
		}
		return base.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
	}
}
