package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mmcdole/shelfsync/internal/adapter"
	"github.com/mmcdole/shelfsync/internal/adapter/downloads"
	"github.com/mmcdole/shelfsync/internal/adapter/source/audiobookshelf"
	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/service"
	"github.com/mmcdole/shelfsync/internal/store"
	"github.com/mmcdole/shelfsync/internal/supervisor"
)

// app is the wired object graph shared by commands.
type app struct {
	store     *store.ProgressStore
	sync      *service.SyncService
	client    *audiobookshelf.Client // nil when not logged in
	prober    *audiobookshelf.Prober // nil when not logged in
	downloads *downloads.Index
	notifier  *adapter.ConsoleNotifier
}

// newApp opens the store and builds services from the loaded config.
func newApp() (*app, error) {
	dataDir, err := adapter.ExpandPath(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	st, err := store.NewProgressStore(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store (is the daemon running?): %w", err)
	}

	notifier := adapter.NewConsoleNotifier(os.Stderr, logger)
	syncSvc := service.NewSyncService(st, service.SyncConfig{
		FinishedThreshold: cfg.Sync.FinishedThreshold,
		RequestTimeout:    cfg.Sync.RequestTimeout,
		UploadRate:        cfg.Sync.UploadRate,
	}, notifier, logger)

	a := &app{store: st, sync: syncSvc, notifier: notifier}

	downloadsDir, err := adapter.ExpandPath(cfg.Storage.DownloadsDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.downloads, err = downloads.Open(downloadsDir, logger)
	if err != nil {
		// A broken index only disables offline playback
		logger.Warn("download index unavailable", "dir", downloadsDir, "error", err)
		a.downloads = nil
	}

	if cfg.IsConfigured() {
		a.client = audiobookshelf.NewClient(cfg.Server.URL, cfg.Server.Token, cfg.Server.DeviceID, cfg.Sync.RequestTimeout, logger)
		a.prober = audiobookshelf.NewProber(a.client, syncSvc, cfg.Sync.ProbeInterval, logger)
	}
	return a, nil
}

// connect probes the server once and attaches it when reachable.
func (a *app) connect(ctx context.Context) bool {
	if a.prober == nil {
		return false
	}
	return a.prober.Probe(ctx)
}

// syncTree builds the supervised background services: the connectivity
// prober when logged in, and the poller.
func (a *app) syncTree() *supervisor.Tree {
	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	if a.prober != nil {
		tree.AddSyncService(a.prober)
	}
	tree.AddSyncService(service.NewPoller(a.sync, service.PollerConfig{
		PollInterval:  cfg.Sync.PollInterval,
		CheckInterval: cfg.Sync.CheckInterval,
	}, logger))
	return tree
}

// startBackground runs the sync tree until the returned stop is called.
// stop waits for the services to exit.
func (a *app) startBackground(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	errCh := a.syncTree().ServeBackground(ctx)
	return func() {
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("background sync stopped with error", "error", err)
		}
	}
}

func (a *app) Close() {
	a.sync.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("failed to close progress store", "error", err)
	}
}

// offlineLocator returns the download index as a locator, or nil.
func (a *app) offlineLocator() domain.OfflineLocator {
	if a.downloads == nil {
		return nil
	}
	return a.downloads
}

// streamClient returns the server client as a stream resolver, or nil.
func (a *app) streamClient() domain.PlaybackClient {
	if a.client == nil {
		return nil
	}
	return a.client
}

// watchedMarker returns the configured webhook marker, or nil.
func watchedMarker() domain.WatchedMarker {
	if cfg.Hooks.WatchedWebhook == "" {
		return nil
	}
	return adapter.NewWebhookMarker(cfg.Hooks.WatchedWebhook, logger)
}

// parseKey builds a key from an item argument and an episode flag.
func parseKey(itemID, episodeID string) (domain.ProgressKey, error) {
	key, err := domain.NewProgressKey(itemID, episodeID)
	if errors.Is(err, domain.ErrInvalidKey) {
		return key, fmt.Errorf("an item id is required")
	}
	return key, err
}

// legacyPaths returns the default legacy JSON table locations under dir.
func legacyPaths(dir string) (progress, state string) {
	return filepath.Join(dir, "progress_unified.json"), filepath.Join(dir, "sync_state.json")
}

// resolveLegacyPaths accepts either a directory holding the legacy tables
// or the progress table itself.
func resolveLegacyPaths(arg, stateOverride string) (progress, state string) {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		progress, state = legacyPaths(arg)
	} else {
		progress = arg
		_, state = legacyPaths(filepath.Dir(arg))
	}
	if stateOverride != "" {
		state = stateOverride
	}
	return progress, state
}
