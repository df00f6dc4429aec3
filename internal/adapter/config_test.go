package adapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndDeviceID(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.SyncInterval != 15*time.Second || cfg.Sync.ServerSyncInterval != time.Minute {
		t.Errorf("sync cadences = %v / %v", cfg.Sync.SyncInterval, cfg.Sync.ServerSyncInterval)
	}
	if cfg.Sync.FinishedThreshold != 0.95 {
		t.Errorf("FinishedThreshold = %v", cfg.Sync.FinishedThreshold)
	}
	if cfg.Server.DeviceID == "" {
		t.Fatal("device id not generated")
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if cfg.IsConfigured() {
		t.Error("IsConfigured() true without credentials")
	}

	again, err := NewConfigStore(dir).Load()
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.Server.DeviceID != cfg.Server.DeviceID {
		t.Errorf("device id changed: %q -> %q", cfg.Server.DeviceID, again.Server.DeviceID)
	}
}

func TestSaveCredentials(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveCredentials("http://abs.local:13378", "tok", "alice"); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	cfg, err := NewConfigStore(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsConfigured() || cfg.Server.Username != "alice" {
		t.Errorf("server = %+v", cfg.Server)
	}

	if err := store.ClearCredentials(); err != nil {
		t.Fatal(err)
	}
	cfg, _ = NewConfigStore(dir).Load()
	if cfg.IsConfigured() {
		t.Error("credentials survived ClearCredentials()")
	}
}

func TestSaveRoundTripsDurations(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStore(dir)
	cfg, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Sync.PollInterval = 90 * time.Second
	cfg.Hooks.WatchedWebhook = "http://hooks.local/watched"
	if err := store.Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := NewConfigStore(dir).Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Sync.PollInterval != 90*time.Second || got.Hooks.WatchedWebhook != cfg.Hooks.WatchedWebhook {
		t.Errorf("reloaded sync=%+v hooks=%+v", got.Sync, got.Hooks)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SHELFSYNC_SERVER_URL", "http://env.local")
	cfg, err := NewConfigStore(t.TempDir()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "http://env.local" {
		t.Errorf("Server.URL = %q, want env value", cfg.Server.URL)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/data")
	if err != nil || got != filepath.Join(home, "data") {
		t.Errorf("ExpandPath() = %q, %v", got, err)
	}
	if got, _ := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %q", got)
	}
}
