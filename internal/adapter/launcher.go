package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/mmcdole/shelfsync/internal/domain"
)

// Launcher starts an mpv-family player with an IPC socket so playback can
// be monitored
type Launcher struct {
	command   string   // configured player command, empty to detect
	args      []string // additional arguments for the player
	ipcSocket string   // socket path, empty for a per-launch temp path
	logger    *slog.Logger
}

// playerConfig defines how a player exposes mpv's IPC server. Resume
// positions are applied over IPC once playback starts, so no start flag
// is passed.
type playerConfig struct {
	ipcFlag string // e.g. "--input-ipc-server="
}

// players registry - mpv and frontends that embed it
var players = map[string]playerConfig{
	"mpv":       {ipcFlag: "--input-ipc-server="},
	"celluloid": {ipcFlag: "--mpv-input-ipc-server="},
	"iina":      {ipcFlag: "--mpv-input-ipc-server="},
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"mpv", "iina"},
	"linux":   {"mpv", "celluloid"},
	"windows": {"mpv"},
}

// NewLauncher creates a new Launcher
func NewLauncher(command string, args []string, ipcSocket string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command:   command,
		args:      args,
		ipcSocket: ipcSocket,
		logger:    logger,
	}
}

// Process is a launched player. It implements domain.PlayerProcess.
type Process struct {
	Socket string

	player   *MPVPlayer
	cmd      *exec.Cmd
	cleanup  func()
	done     chan struct{}
	waitOnce sync.Once
	err      error
}

// Player is the IPC handle for the running player.
func (p *Process) Player() domain.Player {
	return p.player
}

// Done is closed when the player process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err is the process exit error, valid after Done.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Kill terminates the player.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *Process) wait() {
	p.waitOnce.Do(func() {
		go func() {
			p.err = p.cmd.Wait()
			if p.cleanup != nil {
				p.cleanup()
			}
			close(p.done)
		}()
	})
}

// playerBase normalizes a command to its registry name
func playerBase(command string) string {
	base := filepath.Base(command)
	// Strip any extension (for Windows .exe)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(base)
}

// resolve picks the player command and its flags
func (l *Launcher) resolve() (string, playerConfig, error) {
	if l.command != "" {
		cfg, ok := players[playerBase(l.command)]
		if !ok {
			// Unknown commands are assumed to accept mpv's flags
			l.logger.Warn("unknown player, assuming mpv flags", "command", l.command)
			cfg = players["mpv"]
		}
		return l.command, cfg, nil
	}

	candidates, ok := candidatePlayers[runtime.GOOS]
	if !ok {
		candidates = candidatePlayers["linux"] // default
	}
	for _, name := range candidates {
		if _, err := exec.LookPath(name); err != nil {
			l.logger.Debug("player not available", "player", name, "error", err)
			continue
		}
		l.logger.Debug("detected player", "player", name)
		return name, players[name], nil
	}
	return "", playerConfig{}, fmt.Errorf("no mpv-compatible player found (tried %s)", strings.Join(candidates, ", "))
}

// buildArgs assembles the player arguments
func buildArgs(cfg playerConfig, extra []string, socket, target string) []string {
	args := append([]string{}, extra...)
	args = append(args, cfg.ipcFlag+socket)
	return append(args, target)
}

// Launch starts the player on target (a URL or file path). The process is
// reaped in the background.
func (l *Launcher) Launch(ctx context.Context, target string) (*Process, error) {
	command, cfg, err := l.resolve()
	if err != nil {
		return nil, err
	}

	socket := l.ipcSocket
	var cleanup func()
	if socket == "" {
		dir, err := os.MkdirTemp("", "shelfsync-mpv")
		if err != nil {
			return nil, fmt.Errorf("failed to create socket directory: %w", err)
		}
		socket = filepath.Join(dir, "mpv.sock")
		cleanup = func() { os.RemoveAll(dir) }
	}

	args := buildArgs(cfg, l.args, socket, target)
	l.logger.Info("launching player", "command", command, "args", args[:len(args)-1])

	cmd := exec.CommandContext(ctx, command, args...)
	if err := cmd.Start(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	proc := &Process{
		Socket:  socket,
		player:  NewMPVPlayer(socket),
		cmd:     cmd,
		cleanup: cleanup,
		done:    make(chan struct{}),
	}
	proc.wait()
	return proc, nil
}
