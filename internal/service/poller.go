package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is how often the server is polled for progress
	// made on other devices.
	DefaultPollInterval = 300 * time.Second

	// DefaultCheckInterval is how often pending local records are retried.
	DefaultCheckInterval = 60 * time.Second

	pollerTick = time.Second
)

// pollTarget is the part of SyncService the poller drives (consumer-defined interface)
type pollTarget interface {
	IsOnline() bool
	PollOnce(ctx context.Context) int
	UploadPending(ctx context.Context) int
	PendingCount() int
}

// PollerConfig sets the poller cadences. Zero values take the defaults.
type PollerConfig struct {
	PollInterval  time.Duration
	CheckInterval time.Duration
	Tick          time.Duration
}

// Poller periodically pulls remote progress and retries pending uploads.
// It does nothing while offline. Run it with Serve (for a supervisor) or
// with Start/Stop.
type Poller struct {
	target pollTarget
	cfg    PollerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller for target.
func NewPoller(target pollTarget, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Tick <= 0 {
		cfg.Tick = pollerTick
	}
	return &Poller{target: target, cfg: cfg, logger: logger}
}

// Serve runs the loop until ctx is canceled.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	p.logger.Info("progress poller started", "poll_interval", p.cfg.PollInterval, "check_interval", p.cfg.CheckInterval)

	// The first pass waits a full interval; startup has just synced.
	lastPoll, lastCheck := time.Now(), time.Now()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("progress poller stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if !p.target.IsOnline() {
				continue
			}
			if now.Sub(lastPoll) >= p.cfg.PollInterval {
				lastPoll = now
				p.target.PollOnce(ctx)
			}
			if now.Sub(lastCheck) >= p.cfg.CheckInterval {
				lastCheck = now
				if p.target.PendingCount() > 0 {
					p.target.UploadPending(ctx)
				}
			}
		}
	}
}

// Start runs Serve on its own goroutine. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		p.Serve(ctx)
	}(p.done)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// String names the poller in supervisor logs.
func (p *Poller) String() string {
	return "progress-poller"
}
