package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmcdole/shelfsync/internal/domain"
)

// launcher abstracts media player launching (consumer-defined interface)
type launcher interface {
	Launch(ctx context.Context, target string) (domain.PlayerProcess, error)
}

// PlayRequest asks for playback of one key.
type PlayRequest struct {
	Key       domain.ProgressKey
	Duration  float64 // Known duration, 0 if unknown
	FromStart bool    // Ignore saved progress
	Offline   bool    // Only play downloaded files
}

// Playback is a running playback and its monitor.
type Playback struct {
	Key     domain.ProgressKey
	Source  string // "stream" or "download"
	Resume  ResumePoint
	Monitor *PlaybackMonitor
	Process domain.PlayerProcess
}

// Wait blocks until the monitor has flushed its final sample.
func (p *Playback) Wait() {
	<-p.Monitor.Done()
}

// PlaybackService orchestrates playback: it picks the resume position and
// source, launches the player and attaches a monitor.
type PlaybackService struct {
	sync     *SyncService
	launcher launcher
	streams  domain.PlaybackClient // May be nil
	offline  domain.OfflineLocator // May be nil
	watched  domain.WatchedMarker  // May be nil
	cfg      MonitorConfig
	logger   *slog.Logger

	mu     sync.Mutex
	active *Playback
}

// NewPlaybackService creates a new playback service
func NewPlaybackService(
	syncSvc *SyncService,
	launcher launcher,
	streams domain.PlaybackClient,
	offline domain.OfflineLocator,
	watched domain.WatchedMarker,
	cfg MonitorConfig,
	logger *slog.Logger,
) *PlaybackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackService{
		sync:     syncSvc,
		launcher: launcher,
		streams:  streams,
		offline:  offline,
		watched:  watched,
		cfg:      cfg,
		logger:   logger,
	}
}

// Play starts playback of req.Key. Any playback already running is stopped
// first. Downloaded files are preferred over streaming.
func (s *PlaybackService) Play(ctx context.Context, req PlayRequest) (*Playback, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	s.StopActive()

	resume := s.sync.OnPlaybackStart(ctx, req.Key, req.Duration)
	if req.FromStart {
		resume.Position = 0
		resume.IsFinished = false
	}

	target, source, fileStart, err := s.resolveSource(ctx, req, resume.Position)
	if err != nil {
		s.logger.Error("failed to resolve playback source", "key", req.Key.String(), "error", err)
		return nil, err
	}

	s.logger.Info("launching playback",
		"key", req.Key.String(),
		"source", source,
		"position", resume.Position,
		"duration", resume.Duration,
	)
	proc, err := s.launcher.Launch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to launch player: %w", err)
	}

	player := proc.Player()
	if source == "download" {
		player = NewOffsetPlayer(player, fileStart, resume.Duration)
	}

	monitor := NewPlaybackMonitor(s.sync, player, req.Key, resume, s.cfg, s.watched, s.logger)
	monitor.Start(ctx)
	go func() {
		select {
		case <-proc.Done():
			monitor.Stop()
		case <-monitor.Done():
		}
	}()

	pb := &Playback{
		Key:     req.Key,
		Source:  source,
		Resume:  resume,
		Monitor: monitor,
		Process: proc,
	}
	s.mu.Lock()
	s.active = pb
	s.mu.Unlock()
	return pb, nil
}

// resolveSource returns what to hand the player. For downloads, fileStart
// is where the chosen file begins on the item's timeline.
func (s *PlaybackService) resolveSource(ctx context.Context, req PlayRequest, position float64) (target, source string, fileStart float64, err error) {
	if s.offline != nil {
		path, seek, locErr := s.offline.LocateForPosition(req.Key, position)
		if locErr == nil {
			return path, "download", position - seek, nil
		}
		if !errors.Is(locErr, domain.ErrNotDownloaded) {
			s.logger.Warn("download lookup failed", "key", req.Key.String(), "error", locErr)
		}
	}
	if req.Offline {
		return "", "", 0, fmt.Errorf("%w: %s", domain.ErrNotDownloaded, req.Key)
	}
	if s.streams == nil || !s.sync.IsOnline() {
		return "", "", 0, fmt.Errorf("%w: cannot stream %s", domain.ErrOffline, req.Key)
	}
	url, err := s.streams.ResolvePlayableURL(ctx, req.Key)
	if err != nil {
		return "", "", 0, err
	}
	return url, "stream", 0, nil
}

// Active returns the running playback, if any.
func (s *PlaybackService) Active() (*Playback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, false
	}
	select {
	case <-s.active.Monitor.Done():
		return nil, false
	default:
		return s.active, true
	}
}

// StopActive stops the running playback's monitor and waits for its final
// flush. The player itself is left running.
func (s *PlaybackService) StopActive() {
	s.mu.Lock()
	pb := s.active
	s.active = nil
	s.mu.Unlock()
	if pb == nil {
		return
	}
	pb.Monitor.Stop()
	pb.Wait()
}
