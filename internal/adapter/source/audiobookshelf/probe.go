package audiobookshelf

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmcdole/shelfsync/internal/domain"
)

const (
	DefaultProbeInterval = 30 * time.Second
	probeTimeout         = 5 * time.Second
)

// connectivity is what the prober drives (consumer-defined interface)
type connectivity interface {
	IsOnline() bool
	SetGateway(gw domain.ProgressGateway)
	MarkOffline()
}

// Prober pings the server on an interval and attaches or detaches the
// client as a gateway. It runs under a suture supervisor.
type Prober struct {
	client   *Client
	target   connectivity
	interval time.Duration
	logger   *slog.Logger
}

// NewProber creates a prober. A zero interval uses DefaultProbeInterval.
func NewProber(client *Client, target connectivity, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		client:   client,
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Serve probes immediately, then on every interval until ctx is done.
func (p *Prober) Serve(ctx context.Context) error {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe runs one connectivity check and reports whether the server answered.
func (p *Prober) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.client.Ping(probeCtx)
	online := p.target.IsOnline()
	switch {
	case err == nil && !online:
		p.logger.Info("server reachable, going online", "url", p.client.BaseURL())
		p.target.SetGateway(p.client)
	case err != nil && online:
		p.logger.Warn("server unreachable, going offline", "url", p.client.BaseURL(), "error", err)
		p.target.MarkOffline()
	case err != nil:
		// Still records the offline period when the first probe fails.
		p.logger.Debug("server still unreachable", "error", err)
		p.target.MarkOffline()
	}
	return err == nil
}

func (p *Prober) String() string {
	return "server-prober"
}
