// Package healthcheck periodically TCP-dials configured origins and reports
// the result into a balancer.Balancer, adapted from an HTTP /healthz prober
// into a bare TCP-connect probe: this proxy is byte-transparent and has no
// assumption that an origin speaks a health endpoint at all.
package healthcheck

import (
	"context"
	"net"
	"time"

	"github.com/fcprojects/htcacheproxy/internal/balancer"
	"github.com/fcprojects/htcacheproxy/internal/metrics"
)

// probeTimeout bounds a single health-check dial.
const probeTimeout = 500 * time.Millisecond

// Checker runs probes against every target on a fixed interval until its
// context is cancelled.
type Checker struct {
	bal      balancer.Balancer
	interval time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New builds a Checker. Pass interval <= 0 to disable periodic probing
// (callers may still invoke ProbeOnce directly).
func New(bal balancer.Balancer, interval time.Duration) *Checker {
	return &Checker{
		bal:      bal,
		interval: interval,
		dial:     (&net.Dialer{}).DialContext,
	}
}

// Run probes every target once immediately, then on each tick of interval,
// until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	c.ProbeOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce dials every configured target once and updates the balancer and
// the cacheproxy_origin_healthy gauge with the outcome.
func (c *Checker) ProbeOnce(ctx context.Context) {
	for _, addr := range c.bal.Targets() {
		healthy := c.probe(ctx, addr)
		c.bal.SetHealthy(addr, healthy)
		metrics.SetOriginHealthy(addr, healthy)
	}
}

func (c *Checker) probe(ctx context.Context, addr string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
