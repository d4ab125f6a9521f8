package presence

import (
	"context"
	"net"
	"time"
)

// ProberConfig holds tuning for the connectivity probe.
type ProberConfig struct {
	Address  string        // host:port dialled on each probe
	Interval time.Duration // time between probes (default: 5s)
	Timeout  time.Duration // dial timeout per probe (default: 3s)
}

// DefaultProberConfig returns probe defaults for the given address.
func DefaultProberConfig(address string) ProberConfig {
	return ProberConfig{
		Address:  address,
		Interval: 5 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober periodically dials an address and reports reachability to a
// Monitor.
type Prober struct {
	config  ProberConfig
	monitor *Monitor
	dial    DialFunc
}

// NewProber creates a Prober feeding m. A nil dial uses net.Dialer.
func NewProber(config ProberConfig, m *Monitor, dial DialFunc) *Prober {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	return &Prober{config: config, monitor: m, dial: dial}
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce performs a single dial and updates the monitor. It returns the
// observed presence.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	conn, err := p.dial(dctx, "tcp", p.config.Address)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down is not evidence of an outage.
			return p.monitor.Online()
		}
		p.monitor.logger.Debug().Err(err).Str("address", p.config.Address).Msg("probe failed")
		p.monitor.Set(false)
		return false
	}
	_ = conn.Close()
	p.monitor.Set(true)
	return true
}
