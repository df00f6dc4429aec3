package service

import (
	"context"

	"github.com/mmcdole/shelfsync/internal/domain"
)

// OffsetPlayer maps one part of a multi-file download onto the item's
// timeline: positions are shifted by the part's start and the duration is
// the whole item's.
type OffsetPlayer struct {
	inner    domain.Player
	offset   float64
	duration float64
}

// NewOffsetPlayer wraps inner, whose file begins at offset on a timeline of
// length duration. A zero duration defers to the inner player.
func NewOffsetPlayer(inner domain.Player, offset, duration float64) *OffsetPlayer {
	return &OffsetPlayer{inner: inner, offset: offset, duration: duration}
}

func (p *OffsetPlayer) IsPlaying(ctx context.Context) (bool, error) {
	return p.inner.IsPlaying(ctx)
}

// IsPaused forwards to the inner player when it reports pause state.
func (p *OffsetPlayer) IsPaused(ctx context.Context) (bool, error) {
	if pr, ok := p.inner.(pauseReporter); ok {
		return pr.IsPaused(ctx)
	}
	return false, nil
}

func (p *OffsetPlayer) Position(ctx context.Context) (float64, error) {
	pos, err := p.inner.Position(ctx)
	if err != nil {
		return 0, err
	}
	return pos + p.offset, nil
}

func (p *OffsetPlayer) Duration(ctx context.Context) (float64, error) {
	if p.duration > 0 {
		return p.duration, nil
	}
	d, err := p.inner.Duration(ctx)
	if err != nil {
		return 0, err
	}
	return d + p.offset, nil
}

// SeekTo seeks within the current part; positions before it clamp to its start.
func (p *OffsetPlayer) SeekTo(ctx context.Context, seconds float64) error {
	within := seconds - p.offset
	if within < 0 {
		within = 0
	}
	return p.inner.SeekTo(ctx, within)
}
