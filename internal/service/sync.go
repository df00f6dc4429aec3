package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 10 * time.Second
)

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	FinishedThreshold float64       // Fraction of duration that counts as finished
	RequestTimeout    time.Duration // Per remote call
	UploadRate        float64       // Uploads per second within a batch; <= 0 is unlimited
}

// ResumePoint is where playback of a key should start.
type ResumePoint struct {
	Position   float64
	IsFinished bool
	Duration   float64
}

// SyncService reconciles the local progress store with the server.
//
// The gateway is optional: its presence is the online signal. Remote calls
// never run under the store lock, and remote failures never escape; they are
// classified, logged and retried on the next scheduled cycle.
type SyncService struct {
	store    domain.ProgressStore
	notifier domain.Notifier
	logger   *slog.Logger
	cfg      SyncConfig
	limiter  *rate.Limiter

	gwMu    sync.RWMutex
	gateway domain.ProgressGateway

	// Background reconnect passes run under ctx and are joined by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncService creates a sync service. It starts offline; attach a
// gateway with SetGateway.
func NewSyncService(store domain.ProgressStore, cfg SyncConfig, notifier domain.Notifier, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FinishedThreshold <= 0 || cfg.FinishedThreshold > 1 {
		cfg.FinishedThreshold = DefaultFinishedThreshold
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	limit := rate.Inf
	if cfg.UploadRate > 0 {
		limit = rate.Limit(cfg.UploadRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	metrics.SetOnline(false)
	return &SyncService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// FinishedThreshold returns the configured finished fraction.
func (s *SyncService) FinishedThreshold() float64 {
	return s.cfg.FinishedThreshold
}

// Close cancels background reconnect passes and waits for them.
func (s *SyncService) Close() {
	s.cancel()
	s.wg.Wait()
}

// === Connectivity ===

// SetGateway attaches a gateway. Going from offline to online after a
// recorded offline period starts a reconnect pass in the background.
// SetGateway(nil) is MarkOffline.
func (s *SyncService) SetGateway(gw domain.ProgressGateway) {
	if gw == nil {
		s.MarkOffline()
		return
	}

	s.gwMu.Lock()
	prev := s.gateway
	s.gateway = gw
	s.gwMu.Unlock()

	if prev != nil {
		return
	}
	metrics.SetOnline(true)
	s.logger.Info("server gateway attached")

	wasOffline := false
	s.store.UpdateSyncState(func(st *domain.SyncState) {
		wasOffline = st.WasOffline
		st.WasOffline = false
	})
	if !wasOffline {
		return
	}

	s.logger.Info("back online after offline period, starting reconnect sync")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ReconnectSync(s.ctx)
	}()
}

// MarkOffline drops the gateway and records the offline period.
func (s *SyncService) MarkOffline() {
	s.gwMu.Lock()
	prev := s.gateway
	s.gateway = nil
	s.gwMu.Unlock()

	s.store.UpdateSyncState(func(st *domain.SyncState) {
		st.WasOffline = true
	})
	metrics.SetOnline(false)
	if prev != nil {
		s.logger.Info("server gateway detached, working offline")
	}
}

// IsOnline reports whether a gateway is attached.
func (s *SyncService) IsOnline() bool {
	return s.currentGateway() != nil
}

func (s *SyncService) currentGateway() domain.ProgressGateway {
	s.gwMu.RLock()
	defer s.gwMu.RUnlock()
	return s.gateway
}

// === Remote calls ===

// fetchRemote reads the server's progress. ok is false when the call
// failed; a 404 is a successful call with a nil result.
func (s *SyncService) fetchRemote(ctx context.Context, gw domain.ProgressGateway, key domain.ProgressKey) (remote *domain.RemoteProgress, ok bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	remote, err := gw.FetchProgress(callCtx, key)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.RecordSyncOperation("fetch", nil)
		return nil, true
	}
	metrics.RecordSyncOperation("fetch", err)
	if err != nil {
		s.logRemoteError("fetch progress failed", key, err)
		return nil, false
	}
	return remote, true
}

// upload writes one snapshot to the server and, on success, records the
// confirmation locally.
func (s *SyncService) upload(ctx context.Context, gw domain.ProgressGateway, key domain.ProgressKey, currentTime, duration float64, finished bool) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	err := gw.UpdateProgress(callCtx, key, currentTime, duration, finished)
	metrics.RecordSyncOperation("upload", err)
	if err != nil {
		s.logRemoteError("upload progress failed", key, err)
		return false
	}
	s.store.MarkUploaded(key, currentTime)
	s.logger.Debug("uploaded progress", "key", key.String(), "current_time", currentTime, "finished", finished)
	return true
}

func (s *SyncService) logRemoteError(msg string, key domain.ProgressKey, err error) {
	kind := domain.Classify(err)
	metrics.RecordRemoteError(kind.String())
	level := slog.LevelWarn
	if kind == domain.ErrorKindAuth || kind == domain.ErrorKindUnknown {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, msg, "key", key.String(), "kind", kind.String(), "error", err)
}

// === Reconciliation ===

// UploadPending pushes every record awaiting upload, oldest first. It
// returns the number of records the server confirmed. Offline it does
// nothing.
func (s *SyncService) UploadPending(ctx context.Context) int {
	gw := s.currentGateway()
	if gw == nil {
		return 0
	}

	start := time.Now()
	pending := s.store.Pending()
	uploaded := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.upload(ctx, gw, rec.Key(), rec.CurrentTime, rec.Duration, rec.IsFinished) {
			uploaded++
		}
	}
	metrics.PendingUploads.Set(float64(len(s.store.Pending())))

	if len(pending) > 0 {
		metrics.RecordSyncRun("upload", time.Since(start))
		s.logger.Info("uploaded pending progress", "uploaded", uploaded, "pending", len(pending))
	}
	return uploaded
}

// SyncItemBidirectional reconciles one key in both directions. Applying it
// twice with no intervening writes changes nothing the second time.
func (s *SyncService) SyncItemBidirectional(ctx context.Context, key domain.ProgressKey) (pulled, pushed bool) {
	gw := s.currentGateway()
	if gw == nil {
		return false, false
	}

	var local domain.ProgressSnapshot
	if rec, ok := s.store.Get(key); ok {
		local = rec.Snapshot()
	}
	remote, ok := s.fetchRemote(ctx, gw, key)
	if !ok {
		return false, false
	}
	var remoteSnap domain.ProgressSnapshot
	if remote != nil {
		remoteSnap = remote.Snapshot()
	}

	res := Resolve(local, remoteSnap, s.cfg.FinishedThreshold)
	return s.apply(ctx, gw, key, res)
}

// apply performs the write a resolution asks for.
func (s *SyncService) apply(ctx context.Context, gw domain.ProgressGateway, key domain.ProgressKey, res Resolution) (pulled, pushed bool) {
	switch res.Action {
	case ActionPullFromRemote:
		s.store.Put(key, res.Time, res.Duration, res.IsFinished, false, true)
		metrics.RecordSyncOperation("pull", nil)
		s.logger.Debug("pulled progress from server", "key", key.String(), "current_time", res.Time, "finished", res.IsFinished)
		return true, false
	case ActionPushToRemote:
		return false, s.upload(ctx, gw, key, res.Time, res.Duration, res.IsFinished)
	}
	return false, false
}

// StartupSync uploads pending records, then reconciles every known key.
func (s *SyncService) StartupSync(ctx context.Context) domain.SyncSummary {
	return s.fullSync(ctx, "startup")
}

// ReconnectSync is StartupSync after an offline period; a non-empty result
// is reported through the notifier.
func (s *SyncService) ReconnectSync(ctx context.Context) domain.SyncSummary {
	summary := s.fullSync(ctx, "reconnect")
	if summary.Total() > 0 && s.notifier != nil {
		s.notifier.Notify("Sync Complete", fmt.Sprintf("%d items synced", summary.Total()))
	}
	return summary
}

// SyncAll is an on-demand full pass, as requested from the CLI or API.
func (s *SyncService) SyncAll(ctx context.Context) domain.SyncSummary {
	return s.fullSync(ctx, "manual")
}

func (s *SyncService) fullSync(ctx context.Context, kind string) domain.SyncSummary {
	var summary domain.SyncSummary
	if !s.IsOnline() {
		s.logger.Debug("skipping sync while offline", "kind", kind)
		return summary
	}

	start := time.Now()
	summary.Uploaded = s.UploadPending(ctx)

	for _, key := range s.store.KnownKeys() {
		if ctx.Err() != nil {
			break
		}
		pulled, pushed := s.SyncItemBidirectional(ctx, key)
		if pulled {
			summary.Downloaded++
		}
		if pushed {
			summary.Uploaded++
		}
	}

	s.store.UpdateSyncState(func(st *domain.SyncState) {
		st.LastFullSync = domain.UnixNow()
	})
	metrics.RecordSyncRun(kind, time.Since(start))
	s.logger.Info("sync pass complete", "kind", kind, "uploaded", summary.Uploaded, "downloaded", summary.Downloaded)
	return summary
}

// PollOnce is the read-only pass: it pulls keys where the server moved
// ahead (or finished) and never pushes. Returns the number of keys updated.
func (s *SyncService) PollOnce(ctx context.Context) int {
	gw := s.currentGateway()
	if gw == nil {
		return 0
	}

	start := time.Now()
	updated := 0
	for _, key := range s.store.KnownKeys() {
		if ctx.Err() != nil {
			break
		}
		rec, ok := s.store.Get(key)
		if !ok {
			continue
		}
		remote, ok := s.fetchRemote(ctx, gw, key)
		if !ok || remote == nil {
			continue
		}
		res := ResolveReadOnly(rec.Snapshot(), remote.Snapshot(), s.cfg.FinishedThreshold)
		if res.Action != ActionPullFromRemote {
			continue
		}
		s.store.Put(key, res.Time, res.Duration, res.IsFinished, false, true)
		metrics.RecordSyncOperation("pull", nil)
		updated++
	}

	s.store.UpdateSyncState(func(st *domain.SyncState) {
		st.LastServerPoll = domain.UnixNow()
	})
	metrics.RecordSyncRun("poll", time.Since(start))
	if updated > 0 {
		s.logger.Info("pulled newer progress from server", "updated", updated)
	}
	return updated
}

// === Playback hooks ===

// GetBestResumePosition reconciles key and returns where playback should
// start. Without a reachable server the stored record decides.
func (s *SyncService) GetBestResumePosition(ctx context.Context, key domain.ProgressKey, finishedThreshold float64) ResumePoint {
	if finishedThreshold <= 0 {
		finishedThreshold = s.cfg.FinishedThreshold
	}

	var local domain.ProgressSnapshot
	if rec, ok := s.store.Get(key); ok {
		local = rec.Snapshot()
	}

	res := localOnly(local)
	if gw := s.currentGateway(); gw != nil {
		if remote, ok := s.fetchRemote(ctx, gw, key); ok {
			var remoteSnap domain.ProgressSnapshot
			if remote != nil {
				remoteSnap = remote.Snapshot()
			}
			res = Resolve(local, remoteSnap, finishedThreshold)
			s.apply(ctx, gw, key, res)
		}
	}

	s.logger.Info("resolved resume position",
		"key", key.String(),
		"position", res.ResumeAt,
		"finished", res.IsFinished,
		"action", res.Action.String(),
	)
	return ResumePoint{Position: res.ResumeAt, IsFinished: res.IsFinished, Duration: res.Duration}
}

// OnPlaybackStart returns the resume point for a starting playback. A known
// duration overrides the reconciled one.
func (s *SyncService) OnPlaybackStart(ctx context.Context, key domain.ProgressKey, knownDuration float64) ResumePoint {
	rp := s.GetBestResumePosition(ctx, key, s.cfg.FinishedThreshold)
	if knownDuration > 0 {
		rp.Duration = knownDuration
	}
	return rp
}

// SaveLocal records a sample without contacting the server.
func (s *SyncService) SaveLocal(key domain.ProgressKey, currentTime, duration float64, finished bool) {
	s.store.Put(key, currentTime, duration, finished, true, false)
}

// OnPlaybackProgress saves a sample locally and uploads it when online.
// Returns whether the server confirmed it.
func (s *SyncService) OnPlaybackProgress(ctx context.Context, key domain.ProgressKey, currentTime, duration float64, finished bool) bool {
	rec := s.store.Put(key, currentTime, duration, finished, true, false)
	if rec.ItemID == "" {
		return false
	}
	gw := s.currentGateway()
	if gw == nil {
		return false
	}
	return s.upload(ctx, gw, key, rec.CurrentTime, rec.Duration, rec.IsFinished)
}

// OnPlaybackStop saves the final sample; same semantics as OnPlaybackProgress.
func (s *SyncService) OnPlaybackStop(ctx context.Context, key domain.ProgressKey, currentTime, duration float64, finished bool) bool {
	s.logger.Info("playback stopped", "key", key.String(), "position", currentTime, "finished", finished)
	return s.OnPlaybackProgress(ctx, key, currentTime, duration, finished)
}

// === Playback sessions ===

// Sessions are best-effort; failures are logged at debug and ignored.

func (s *SyncService) OpenSession(ctx context.Context, key domain.ProgressKey) string {
	gw := s.currentGateway()
	if gw == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	id, err := gw.OpenSession(callCtx, key)
	if err != nil {
		s.logger.Debug("open session failed", "key", key.String(), "error", err)
		return ""
	}
	return id
}

func (s *SyncService) SyncSession(ctx context.Context, sessionID string, currentTime, duration, timeListened float64) {
	gw := s.currentGateway()
	if gw == nil || sessionID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := gw.SyncSession(callCtx, sessionID, currentTime, duration, timeListened); err != nil {
		s.logger.Debug("session sync failed", "session", sessionID, "error", err)
	}
}

func (s *SyncService) CloseSession(ctx context.Context, sessionID string) {
	gw := s.currentGateway()
	if gw == nil || sessionID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := gw.CloseSession(callCtx, sessionID); err != nil {
		s.logger.Debug("session close failed", "session", sessionID, "error", err)
	}
}

// === Status ===

// Status is a point-in-time view for the CLI and the HTTP API.
type Status struct {
	Online         bool      `json:"online"`
	Records        int       `json:"records"`
	Pending        int       `json:"pending"`
	KnownItems     int       `json:"known_items"`
	WasOffline     bool      `json:"was_offline"`
	LastFullSync   time.Time `json:"last_full_sync"`
	LastServerPoll time.Time `json:"last_server_poll"`
}

// Status snapshots the store and connectivity.
func (s *SyncService) Status() Status {
	st := s.store.SyncState()
	pending := len(s.store.Pending())
	metrics.PendingUploads.Set(float64(pending))
	return Status{
		Online:         s.IsOnline(),
		Records:        len(s.store.All()),
		Pending:        pending,
		KnownItems:     len(st.KnownItems),
		WasOffline:     st.WasOffline,
		LastFullSync:   domain.UnixToTime(st.LastFullSync),
		LastServerPoll: domain.UnixToTime(st.LastServerPoll),
	}
}

// PendingCount is the number of records awaiting upload.
func (s *SyncService) PendingCount() int {
	return len(s.store.Pending())
}

// Progress returns the stored record for key.
func (s *SyncService) Progress(key domain.ProgressKey) (*domain.ProgressRecord, bool) {
	return s.store.Get(key)
}
