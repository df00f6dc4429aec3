package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/shelfsync/internal/domain"
)

type fakePlayer struct {
	mu          sync.Mutex
	playing     bool
	position    float64
	duration    float64
	failSamples bool
	paused      bool
	seeks       []float64
}

func (p *fakePlayer) IsPaused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, nil
}

func (p *fakePlayer) IsPlaying(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, nil
}

func (p *fakePlayer) Position(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSamples {
		return 0, errors.New("player gone")
	}
	return p.position, nil
}

func (p *fakePlayer) Duration(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration, nil
}

func (p *fakePlayer) SeekTo(ctx context.Context, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, seconds)
	p.position = seconds
	return nil
}

func (p *fakePlayer) set(fn func(p *fakePlayer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type countingMarker struct {
	calls atomic.Int32
}

func (m *countingMarker) MarkWatched(ctx context.Context, key domain.ProgressKey) error {
	m.calls.Add(1)
	return nil
}

func fastMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StartTimeout:       time.Second,
		StartPoll:          time.Millisecond,
		SampleInterval:     2 * time.Millisecond,
		LocalSaveInterval:  4 * time.Millisecond,
		RemoteSyncInterval: 10 * time.Millisecond,
	}
}

func TestMonitorStateString(t *testing.T) {
	states := map[MonitorState]string{
		StateAwaitingStart: "awaiting_start",
		StateSeeking:       "seeking",
		StateActive:        "active",
		StateFinalizing:    "finalizing",
		StateClosed:        "closed",
		MonitorState(42):   "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("MonitorState(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestMonitorAbandonsWhenPlayerNeverStarts(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{}
	cfg := fastMonitorConfig()
	cfg.StartTimeout = 20 * time.Millisecond

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Position: 50, Duration: 600}, cfg, nil, nil)
	m.Start(context.Background())

	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor did not close")
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}
	if _, ok := st.Get(book); ok {
		t.Error("abandoned monitor saved progress")
	}
	if len(player.seeks) != 0 {
		t.Error("abandoned monitor seeked")
	}
}

func TestMonitorFullPlayback(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	gw := newFakeGateway()
	svc.SetGateway(gw)
	marker := &countingMarker{}
	player := &fakePlayer{playing: true, duration: 600}

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Position: 90, Duration: 600}, fastMonitorConfig(), marker, nil)
	m.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool { return m.State() == StateActive })
	player.set(func(p *fakePlayer) { p.position = 100 })

	waitFor(t, 2*time.Second, func() bool {
		rec, ok := st.Get(book)
		return ok && rec.CurrentTime == 100
	})
	waitFor(t, 2*time.Second, func() bool { return gw.updateCount() > 0 })

	// 40s from the end: not finished while sampling, finished on the final sample.
	player.set(func(p *fakePlayer) { p.position = 560 })
	waitFor(t, 2*time.Second, func() bool {
		rec, _ := st.Get(book)
		return rec.CurrentTime == 560
	})
	if rec, _ := st.Get(book); rec.IsFinished {
		t.Error("sample 40s from the end marked finished")
	}
	if marker.calls.Load() != 0 {
		t.Error("watched hook fired before finishing")
	}

	player.set(func(p *fakePlayer) { p.playing = false })
	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor did not close after player stopped")
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}

	rec, _ := st.Get(book)
	if rec.CurrentTime != 560 || !rec.IsFinished || rec.NeedsUpload {
		t.Errorf("final record = %+v, want 560 finished and uploaded", rec)
	}
	if remote, _ := gw.get(book); !remote.IsFinished {
		t.Errorf("final remote = %+v, want finished", remote)
	}

	player.mu.Lock()
	seeks := append([]float64(nil), player.seeks...)
	player.mu.Unlock()
	if len(seeks) != 1 || seeks[0] != 90 {
		t.Errorf("seeks = %v, want [90]", seeks)
	}

	gw.mu.Lock()
	opened, closed, syncs := gw.sessionsOpened, gw.sessionsClosed, len(gw.sessionSyncs)
	gw.mu.Unlock()
	if opened != 1 || closed != 1 || syncs == 0 {
		t.Errorf("sessions opened=%d closed=%d syncs=%d", opened, closed, syncs)
	}

	waitFor(t, 2*time.Second, func() bool { return marker.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := marker.calls.Load(); got != 1 {
		t.Errorf("watched hook fired %d times, want 1", got)
	}
}

func TestMonitorStopRequest(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{playing: true, position: 42, duration: 600}

	m := NewPlaybackMonitor(svc, player, episode, ResumePoint{Duration: 600}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateActive })

	m.Stop()
	m.Stop()
	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor ignored stop request")
	}

	rec, ok := st.Get(episode)
	if !ok || rec.CurrentTime != 42 {
		t.Errorf("final flush = %+v, ok=%v", rec, ok)
	}
	// Offline: the final sample stays pending.
	if !rec.NeedsUpload {
		t.Error("offline final sample not pending")
	}
	if len(player.seeks) != 0 {
		t.Error("seeked without a start position")
	}
}

func TestMonitorFinalSampleFallsBack(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{playing: true, position: 300, duration: 600}

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Duration: 600}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		rec, ok := st.Get(book)
		return ok && rec.CurrentTime == 300
	})

	player.set(func(p *fakePlayer) {
		p.failSamples = true
		p.playing = false
	})
	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor did not close")
	}
	rec, _ := st.Get(book)
	if rec.CurrentTime != 300 {
		t.Errorf("final CurrentTime = %v, want last known 300", rec.CurrentTime)
	}
}

func TestMonitorAsksPlayerForDuration(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{playing: true, position: 10, duration: 1234}

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		rec, ok := st.Get(book)
		return ok && rec.Duration == 1234
	})
	m.Stop()
	m.Wait(2 * time.Second)
}

func TestMonitorContextCancel(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{playing: true, position: 77, duration: 600}

	ctx, cancel := context.WithCancel(context.Background())
	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Duration: 600}, fastMonitorConfig(), nil, nil)
	m.Start(ctx)
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateActive })
	cancel()

	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor ignored cancellation")
	}
	if rec, ok := st.Get(book); !ok || rec.CurrentTime != 77 {
		t.Errorf("final flush after cancel = %+v", rec)
	}
}

func TestIsFinished(t *testing.T) {
	tests := []struct {
		pos, dur, margin float64
		want             bool
	}{
		{571, 600, 30, true},
		{570, 600, 30, false},
		{541, 600, 60, true},
		{100, 0, 30, false},
	}
	for _, tt := range tests {
		if got := isFinished(tt.pos, tt.dur, tt.margin); got != tt.want {
			t.Errorf("isFinished(%v, %v, %v) = %v, want %v", tt.pos, tt.dur, tt.margin, got, tt.want)
		}
	}
}

func TestMonitorKeepsFinishedProgressWhenNothingPlayed(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	gw := newFakeGateway()
	gw.set(book, 600, 600, true)
	st.Put(book, 600, 600, true, false, true)
	svc.SetGateway(gw)

	// A finished item resumes from 0; the player reports 0 and then stops.
	player := &fakePlayer{playing: true, duration: 600}
	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Position: 0, Duration: 600}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateActive })
	time.Sleep(20 * time.Millisecond)
	player.set(func(p *fakePlayer) { p.playing = false })

	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor did not close")
	}
	rec, ok := st.Get(book)
	if !ok || rec.CurrentTime != 600 || !rec.IsFinished {
		t.Errorf("local record = %+v, want 600 finished", rec)
	}
	if remote, _ := gw.get(book); remote.CurrentTime != 600 || !remote.IsFinished {
		t.Errorf("remote = %+v, want 600 finished", remote)
	}
	if n := gw.updateCount(); n != 0 {
		t.Errorf("progress uploads = %d, want 0", n)
	}

	gw.mu.Lock()
	opened, closed, syncs := gw.sessionsOpened, gw.sessionsClosed, len(gw.sessionSyncs)
	gw.mu.Unlock()
	if opened != 1 || closed != 1 || syncs != 0 {
		t.Errorf("sessions opened=%d closed=%d syncs=%d, want 1/1/0", opened, closed, syncs)
	}
}

func TestMonitorDoesNotCountPausedTime(t *testing.T) {
	svc, _, _ := newTestSyncService(t)
	gw := newFakeGateway()
	svc.SetGateway(gw)
	player := &fakePlayer{playing: true, paused: true, position: 100, duration: 600}

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{Duration: 600}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.sessionSyncs) >= 2
	})
	m.Stop()
	if !m.Wait(2 * time.Second) {
		t.Fatal("monitor did not close")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	for i, listened := range gw.sessionSyncs {
		if listened != 0 {
			t.Errorf("session sync %d reported %v seconds listened while paused", i, listened)
		}
	}
}

func TestMonitorDiscoversLateDuration(t *testing.T) {
	svc, st, _ := newTestSyncService(t)
	player := &fakePlayer{playing: true, position: 50}

	m := NewPlaybackMonitor(svc, player, book, ResumePoint{}, fastMonitorConfig(), nil, nil)
	m.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateActive })

	player.set(func(p *fakePlayer) { p.duration = 900 })
	waitFor(t, 2*time.Second, func() bool {
		rec, ok := st.Get(book)
		return ok && rec.Duration == 900
	})
	m.Stop()
	m.Wait(2 * time.Second)
}
