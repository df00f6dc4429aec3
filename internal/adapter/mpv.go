package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

const mpvDialTimeout = 2 * time.Second

// ErrPlayerGone indicates the player's IPC socket no longer answers
var ErrPlayerGone = errors.New("player is not running")

// MPVPlayer drives an mpv instance over its JSON IPC socket. It implements
// domain.Player. Each call opens its own connection.
type MPVPlayer struct {
	socket string
	nextID atomic.Int64
}

// NewMPVPlayer creates a player bound to an --input-ipc-server socket path.
func NewMPVPlayer(socket string) *MPVPlayer {
	return &MPVPlayer{socket: socket}
}

type mpvRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type mpvResponse struct {
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	RequestID *int64          `json:"request_id"`
	Event     string          `json:"event"`
}

// command sends one IPC command and waits for its reply, skipping events.
func (p *MPVPlayer) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	dialer := net.Dialer{Timeout: mpvDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", p.socket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlayerGone, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(mpvDialTimeout))
	}

	id := p.nextID.Add(1)
	req, err := json.Marshal(mpvRequest{Command: args, RequestID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mpv command: %w", err)
	}
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlayerGone, err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp mpvResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" || resp.RequestID == nil || *resp.RequestID != id {
			continue
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], resp.Error)
		}
		return resp.Data, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlayerGone, err)
	}
	return nil, ErrPlayerGone
}

func (p *MPVPlayer) getFloat(ctx context.Context, property string) (float64, error) {
	data, err := p.command(ctx, "get_property", property)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("mpv %s: %w", property, err)
	}
	return v, nil
}

// IsPlaying reports whether a file is loaded. Paused counts as playing.
func (p *MPVPlayer) IsPlaying(ctx context.Context) (bool, error) {
	data, err := p.command(ctx, "get_property", "idle-active")
	if err != nil {
		return false, err
	}
	var idle bool
	if err := json.Unmarshal(data, &idle); err != nil {
		return false, fmt.Errorf("mpv idle-active: %w", err)
	}
	return !idle, nil
}

// IsPaused reports mpv's pause property.
func (p *MPVPlayer) IsPaused(ctx context.Context) (bool, error) {
	data, err := p.command(ctx, "get_property", "pause")
	if err != nil {
		return false, err
	}
	var paused bool
	if err := json.Unmarshal(data, &paused); err != nil {
		return false, fmt.Errorf("mpv pause: %w", err)
	}
	return paused, nil
}

func (p *MPVPlayer) Position(ctx context.Context) (float64, error) {
	return p.getFloat(ctx, "time-pos")
}

func (p *MPVPlayer) Duration(ctx context.Context) (float64, error) {
	return p.getFloat(ctx, "duration")
}

func (p *MPVPlayer) SeekTo(ctx context.Context, seconds float64) error {
	_, err := p.command(ctx, "seek", seconds, "absolute")
	return err
}

// Quit asks mpv to exit.
func (p *MPVPlayer) Quit(ctx context.Context) error {
	_, err := p.command(ctx, "quit")
	return err
}
