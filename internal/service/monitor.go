package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/metrics"
)

// MonitorState is a playback monitor's lifecycle phase.
type MonitorState int

const (
	StateAwaitingStart MonitorState = iota
	StateSeeking
	StateActive
	StateFinalizing
	StateClosed
)

func (s MonitorState) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateSeeking:
		return "seeking"
	case StateActive:
		return "active"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MonitorConfig sets the monitor cadences. Zero values take the defaults.
type MonitorConfig struct {
	StartTimeout        time.Duration // How long to wait for the player to start
	StartPoll           time.Duration // Player poll interval while waiting
	SettleDelay         time.Duration // Pause after start before seeking; zero skips it
	SampleInterval      time.Duration
	LocalSaveInterval   time.Duration // sync_interval
	RemoteSyncInterval  time.Duration // server_sync_interval
	FinishedMargin      float64       // Seconds from the end that count as finished
	FinalFinishedMargin float64       // Same, for the final sample
}

// DefaultMonitorConfig returns the standard cadences.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StartTimeout:        30 * time.Second,
		StartPoll:           500 * time.Millisecond,
		SettleDelay:         1500 * time.Millisecond,
		SampleInterval:      2 * time.Second,
		LocalSaveInterval:   15 * time.Second,
		RemoteSyncInterval:  60 * time.Second,
		FinishedMargin:      30,
		FinalFinishedMargin: 60,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.StartPoll <= 0 {
		c.StartPoll = d.StartPoll
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.LocalSaveInterval <= 0 {
		c.LocalSaveInterval = d.LocalSaveInterval
	}
	if c.RemoteSyncInterval <= 0 {
		c.RemoteSyncInterval = d.RemoteSyncInterval
	}
	if c.FinishedMargin <= 0 {
		c.FinishedMargin = d.FinishedMargin
	}
	if c.FinalFinishedMargin <= 0 {
		c.FinalFinishedMargin = d.FinalFinishedMargin
	}
	return c
}

// progressSink is the part of SyncService a monitor writes to (consumer-defined interface)
type progressSink interface {
	IsOnline() bool
	SaveLocal(key domain.ProgressKey, currentTime, duration float64, finished bool)
	OnPlaybackProgress(ctx context.Context, key domain.ProgressKey, currentTime, duration float64, finished bool) bool
	OnPlaybackStop(ctx context.Context, key domain.ProgressKey, currentTime, duration float64, finished bool) bool
	OpenSession(ctx context.Context, key domain.ProgressKey) string
	SyncSession(ctx context.Context, sessionID string, currentTime, duration, timeListened float64)
	CloseSession(ctx context.Context, sessionID string)
}

// pauseReporter is implemented by players that expose a pause state (consumer-defined interface)
type pauseReporter interface {
	IsPaused(ctx context.Context) (bool, error)
}

// PlaybackMonitor samples one playback and writes its progress. Create one
// per playback; a monitor runs once.
type PlaybackMonitor struct {
	sink    progressSink
	player  domain.Player
	key     domain.ProgressKey
	watched domain.WatchedMarker
	cfg     MonitorConfig
	logger  *slog.Logger

	startPosition float64

	mu           sync.Mutex // Protects the fields below
	state        MonitorState
	duration     float64
	lastPosition float64
	observed     bool // A position was read from the player
	watchedSent  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPlaybackMonitor creates a monitor for key. start is where playback
// was asked to begin; a non-zero position is seeked to once the player
// runs. watched may be nil.
func NewPlaybackMonitor(
	sink progressSink,
	player domain.Player,
	key domain.ProgressKey,
	start ResumePoint,
	cfg MonitorConfig,
	watched domain.WatchedMarker,
	logger *slog.Logger,
) *PlaybackMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackMonitor{
		sink:          sink,
		player:        player,
		key:           key,
		watched:       watched,
		cfg:           cfg.withDefaults(),
		logger:        logger.With("key", key.String()),
		startPosition: start.Position,
		duration:      start.Duration,
		lastPosition:  start.Position,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the monitor on its own goroutine.
func (m *PlaybackMonitor) Start(ctx context.Context) {
	metrics.ActiveMonitors.Inc()
	go func() {
		defer close(m.done)
		defer metrics.ActiveMonitors.Dec()
		m.run(ctx)
	}()
}

// Stop asks the sampling loop to exit; it is observed at the next tick.
func (m *PlaybackMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Wait blocks until the monitor closes or timeout elapses. It reports
// whether the monitor closed.
func (m *PlaybackMonitor) Wait(timeout time.Duration) bool {
	select {
	case <-m.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed when the monitor reaches StateClosed.
func (m *PlaybackMonitor) Done() <-chan struct{} {
	return m.done
}

func (m *PlaybackMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *PlaybackMonitor) setState(s MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.Debug("playback monitor state", "state", s.String())
}

func (m *PlaybackMonitor) run(ctx context.Context) {
	m.setState(StateAwaitingStart)
	if !m.awaitStart(ctx) {
		m.logger.Warn("player never started, abandoning playback monitor")
		m.setState(StateClosed)
		return
	}

	m.setState(StateSeeking)
	m.seek(ctx)

	m.setState(StateActive)
	var sessionID string
	if m.sink.IsOnline() {
		sessionID = m.sink.OpenSession(ctx, m.key)
	}
	m.logger.Info("monitoring playback", "start", m.startPosition, "duration", m.currentDuration(), "session", sessionID)

	listened := m.sample(ctx, sessionID)

	m.setState(StateFinalizing)
	m.finalize(context.WithoutCancel(ctx), sessionID, listened)
	m.setState(StateClosed)
}

// awaitStart polls the player until it plays, the timeout passes or the
// monitor is stopped.
func (m *PlaybackMonitor) awaitStart(ctx context.Context) bool {
	deadline := time.NewTimer(m.cfg.StartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.StartPoll)
	defer ticker.Stop()

	for {
		if playing, err := m.player.IsPlaying(ctx); err == nil && playing {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-m.stopCh:
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}

	if m.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-m.stopCh:
			return false
		case <-time.After(m.cfg.SettleDelay):
		}
	}

	m.discoverDuration(ctx)
	return true
}

// discoverDuration asks the player for the duration while the known one is
// unusable and returns the current value.
func (m *PlaybackMonitor) discoverDuration(ctx context.Context) float64 {
	if d := m.currentDuration(); d > 1 {
		return d
	}
	d, err := m.player.Duration(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil && d > 1 {
		m.duration = d
	}
	return m.duration
}

// paused reports whether the player says it is paused. Players that cannot
// tell are never paused.
func (m *PlaybackMonitor) paused(ctx context.Context) bool {
	pr, ok := m.player.(pauseReporter)
	if !ok {
		return false
	}
	p, err := pr.IsPaused(ctx)
	return err == nil && p
}

func (m *PlaybackMonitor) seek(ctx context.Context) {
	if m.startPosition <= 0 {
		return
	}
	if err := m.player.SeekTo(ctx, m.startPosition); err != nil {
		m.logger.Warn("resume seek failed", "position", m.startPosition, "error", err)
		return
	}
	m.logger.Info("resumed playback", "position", m.startPosition)
}

// sample runs the 2s loop until the player stops or the monitor is asked
// to. It returns listening time not yet reported to the session.
func (m *PlaybackMonitor) sample(ctx context.Context, sessionID string) float64 {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	started := time.Now()
	lastLocal, lastRemote, lastTick := started, started, started
	var listened float64

	for {
		select {
		case <-ctx.Done():
			return listened
		case <-m.stopCh:
			return listened
		case <-ticker.C:
		}

		playing, err := m.player.IsPlaying(ctx)
		if err != nil || !playing {
			return listened
		}
		pos, err := m.player.Position(ctx)
		if err != nil {
			m.logger.Debug("position sample failed", "error", err)
			continue
		}
		now := time.Now()
		if pos <= 0 {
			// Not started yet; a zero position is never saved
			lastTick = now
			continue
		}

		if !m.paused(ctx) {
			listened += now.Sub(lastTick).Seconds()
		}
		lastTick = now

		m.mu.Lock()
		m.lastPosition = pos
		m.observed = true
		m.mu.Unlock()
		duration := m.discoverDuration(ctx)
		finished := isFinished(pos, duration, m.cfg.FinishedMargin)

		if now.Sub(lastLocal) >= m.cfg.LocalSaveInterval {
			m.sink.SaveLocal(m.key, pos, duration, finished)
			metrics.MonitorSaves.WithLabelValues("local").Inc()
			lastLocal = now
		}
		if now.Sub(lastRemote) >= m.cfg.RemoteSyncInterval {
			if m.sink.IsOnline() {
				m.sink.OnPlaybackProgress(ctx, m.key, pos, duration, finished)
				m.sink.SyncSession(ctx, sessionID, pos, duration, listened)
				metrics.MonitorSaves.WithLabelValues("remote").Inc()
				listened = 0
			}
			lastRemote = now
		}
		if finished {
			m.markWatched(ctx)
		}
	}
}

// finalize takes the last sample (falling back to the last position read
// while sampling) and flushes it locally and remotely. Without any observed
// position above zero nothing is written, so a playback that never got going
// cannot overwrite stored progress.
func (m *PlaybackMonitor) finalize(ctx context.Context, sessionID string, listened float64) {
	m.mu.Lock()
	pos := m.lastPosition
	observed := m.observed
	duration := m.duration
	m.mu.Unlock()

	if p, err := m.player.Position(ctx); err == nil && p > 0 {
		pos = p
		observed = true
	}

	if !observed || pos <= 0 {
		m.logger.Info("no playback position observed, keeping stored progress")
		if sessionID != "" {
			m.sink.CloseSession(ctx, sessionID)
		}
		return
	}

	finished := isFinished(pos, duration, m.cfg.FinalFinishedMargin)
	m.sink.OnPlaybackStop(ctx, m.key, pos, duration, finished)
	metrics.MonitorSaves.WithLabelValues("final").Inc()

	if sessionID != "" {
		m.sink.SyncSession(ctx, sessionID, pos, duration, listened)
		m.sink.CloseSession(ctx, sessionID)
	}
	if finished {
		m.markWatched(ctx)
	}
}

// markWatched fires the watched hook once, off the sampling goroutine.
func (m *PlaybackMonitor) markWatched(ctx context.Context) {
	if m.watched == nil {
		return
	}
	m.mu.Lock()
	if m.watchedSent {
		m.mu.Unlock()
		return
	}
	m.watchedSent = true
	m.mu.Unlock()

	go func() {
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRequestTimeout)
		defer cancel()
		if err := m.watched.MarkWatched(hookCtx, m.key); err != nil {
			m.logger.Warn("mark watched hook failed", "error", err)
			return
		}
		m.logger.Info("marked as watched")
	}()
}

func (m *PlaybackMonitor) currentDuration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func isFinished(position, duration, margin float64) bool {
	return duration > 0 && duration-position < margin
}
