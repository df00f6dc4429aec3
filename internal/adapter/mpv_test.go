package adapter

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// fakeMPV answers IPC requests from a property table, emitting an event
// before every reply.
func fakeMPV(t *testing.T, props map[string]any, seeks chan<- float64) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mpv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s")

	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req mpvRequest
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					conn.Write([]byte(`{"event":"property-change","name":"time-pos"}` + "\n"))

					resp := map[string]any{"request_id": req.RequestID, "error": "success"}
					switch req.Command[0] {
					case "get_property":
						v, ok := props[req.Command[1].(string)]
						if !ok {
							resp["error"] = "property unavailable"
						} else {
							resp["data"] = v
						}
					case "seek":
						if seeks != nil {
							seeks <- req.Command[1].(float64)
						}
					}
					out, _ := json.Marshal(resp)
					conn.Write(append(out, '\n'))
				}
			}(conn)
		}
	}()
	return socket
}

func TestMPVPlayer(t *testing.T) {
	seeks := make(chan float64, 1)
	socket := fakeMPV(t, map[string]any{
		"idle-active": false,
		"time-pos":    42.5,
		"duration":    600.0,
	}, seeks)
	p := NewMPVPlayer(socket)
	ctx := context.Background()

	playing, err := p.IsPlaying(ctx)
	if err != nil || !playing {
		t.Errorf("IsPlaying() = %v, %v", playing, err)
	}
	if pos, err := p.Position(ctx); err != nil || pos != 42.5 {
		t.Errorf("Position() = %v, %v", pos, err)
	}
	if d, err := p.Duration(ctx); err != nil || d != 600 {
		t.Errorf("Duration() = %v, %v", d, err)
	}
	if err := p.SeekTo(ctx, 90); err != nil {
		t.Fatalf("SeekTo() error = %v", err)
	}
	select {
	case got := <-seeks:
		if got != 90 {
			t.Errorf("seek = %v, want 90", got)
		}
	case <-time.After(time.Second):
		t.Error("seek not received")
	}
}

func TestMPVPlayerIdle(t *testing.T) {
	socket := fakeMPV(t, map[string]any{"idle-active": true}, nil)
	playing, err := NewMPVPlayer(socket).IsPlaying(context.Background())
	if err != nil || playing {
		t.Errorf("IsPlaying() = %v, %v, want false", playing, err)
	}
}

func TestMPVPlayerPaused(t *testing.T) {
	socket := fakeMPV(t, map[string]any{"idle-active": false, "pause": true}, nil)
	p := NewMPVPlayer(socket)
	paused, err := p.IsPaused(context.Background())
	if err != nil || !paused {
		t.Errorf("IsPaused() = %v, %v, want true", paused, err)
	}
	playing, err := p.IsPlaying(context.Background())
	if err != nil || !playing {
		t.Errorf("paused IsPlaying() = %v, %v, want true", playing, err)
	}
}

func TestMPVPlayerPropertyError(t *testing.T) {
	socket := fakeMPV(t, map[string]any{}, nil)
	if _, err := NewMPVPlayer(socket).Position(context.Background()); err == nil {
		t.Error("Position() succeeded for unavailable property")
	}
}

func TestMPVPlayerGone(t *testing.T) {
	p := NewMPVPlayer(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := p.IsPlaying(context.Background())
	if !errors.Is(err, ErrPlayerGone) {
		t.Errorf("IsPlaying() error = %v, want ErrPlayerGone", err)
	}
}

func TestBuildArgs(t *testing.T) {
	got := buildArgs(players["mpv"], []string{"--no-video"}, "/tmp/s", "http://x/a.mp3")
	want := []string{"--no-video", "--input-ipc-server=/tmp/s", "http://x/a.mp3"}
	if len(got) != len(want) {
		t.Fatalf("buildArgs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("buildArgs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	got = buildArgs(players["celluloid"], nil, "/tmp/s", "/a.mp3")
	if len(got) != 2 || got[0] != "--mpv-input-ipc-server=/tmp/s" {
		t.Errorf("buildArgs() for celluloid = %v", got)
	}
}

func TestPlayerBase(t *testing.T) {
	tests := map[string]string{
		"/usr/bin/mpv":     "mpv",
		"/opt/mpv/MPV.exe": "mpv",
		"celluloid":        "celluloid",
	}
	for in, want := range tests {
		if got := playerBase(in); got != want {
			t.Errorf("playerBase(%q) = %q, want %q", in, got, want)
		}
	}
}
