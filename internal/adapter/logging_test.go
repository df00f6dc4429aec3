package adapter

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shelfsync.log")
	logger, closer, err := SetupLogger(&LoggingConfig{File: path, Level: "warn", Format: "text"})
	if err != nil {
		t.Fatalf("SetupLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("upload failed", "key", "li_1")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	for _, want := range []string{`msg="upload failed"`, "key=li_1", "app=shelfsync"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestSetupLoggerStderr(t *testing.T) {
	logger, closer, err := SetupLogger(&LoggingConfig{File: "-"})
	if err != nil {
		t.Fatalf("SetupLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("stderr closer returned %v", err)
	}
}
