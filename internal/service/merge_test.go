package service

import (
	"testing"

	"github.com/mmcdole/shelfsync/internal/domain"
)

func snap(t, d float64, finished bool) domain.ProgressSnapshot {
	return domain.ProgressSnapshot{CurrentTime: t, Duration: d, IsFinished: finished}
}

func TestResolveRules(t *testing.T) {
	tests := []struct {
		name         string
		local        domain.ProgressSnapshot
		remote       domain.ProgressSnapshot
		wantAction   Action
		wantTime     float64
		wantResume   float64
		wantFinished bool
	}{
		{
			name:       "no data anywhere",
			wantAction: ActionNone,
		},
		{
			name:         "remote finished wins over local in progress",
			local:        snap(120, 600, false),
			remote:       snap(590, 600, true),
			wantAction:   ActionPullFromRemote,
			wantTime:     590,
			wantFinished: true,
		},
		{
			name:         "local finished is pushed",
			local:        snap(598, 600, true),
			remote:       snap(300, 600, false),
			wantAction:   ActionPushToRemote,
			wantTime:     598,
			wantFinished: true,
		},
		{
			name:         "both finished resumes from zero",
			local:        snap(590, 600, true),
			remote:       snap(600, 600, true),
			wantAction:   ActionNone,
			wantTime:     0,
			wantResume:   0,
			wantFinished: true,
		},
		{
			name:       "within threshold takes furthest without writing",
			local:      snap(100, 600, false),
			remote:     snap(104, 600, false),
			wantAction: ActionNone,
			wantTime:   104,
			wantResume: 104,
		},
		{
			name:       "exactly at threshold is not a disagreement",
			local:      snap(100, 600, false),
			remote:     snap(105, 600, false),
			wantAction: ActionNone,
			wantTime:   105,
			wantResume: 105,
		},
		{
			name:       "remote ahead beyond threshold pulls",
			local:      snap(100, 600, false),
			remote:     snap(106, 600, false),
			wantAction: ActionPullFromRemote,
			wantTime:   106,
			wantResume: 106,
		},
		{
			name:       "local ahead beyond threshold pushes",
			local:      snap(300, 600, false),
			remote:     snap(100, 600, false),
			wantAction: ActionPushToRemote,
			wantTime:   300,
			wantResume: 300,
		},
		{
			name:         "pulled position past threshold finishes",
			local:        snap(100, 600, false),
			remote:       snap(571, 600, false),
			wantAction:   ActionPullFromRemote,
			wantTime:     571,
			wantResume:   0,
			wantFinished: true,
		},
		{
			name:       "remote only data is pulled",
			remote:     snap(42, 0, false),
			wantAction: ActionPullFromRemote,
			wantTime:   42,
			wantResume: 42,
		},
		{
			name:       "local only data is pushed",
			local:      snap(42, 100, false),
			wantAction: ActionPushToRemote,
			wantTime:   42,
			wantResume: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.local, tt.remote, DefaultFinishedThreshold)
			if got.Action != tt.wantAction {
				t.Errorf("Action = %v, want %v", got.Action, tt.wantAction)
			}
			if got.Time != tt.wantTime {
				t.Errorf("Time = %v, want %v", got.Time, tt.wantTime)
			}
			if got.ResumeAt != tt.wantResume {
				t.Errorf("ResumeAt = %v, want %v", got.ResumeAt, tt.wantResume)
			}
			if got.IsFinished != tt.wantFinished {
				t.Errorf("IsFinished = %v, want %v", got.IsFinished, tt.wantFinished)
			}
		})
	}
}

func TestResolveUsesLargerDuration(t *testing.T) {
	got := Resolve(snap(10, 0, false), snap(580, 600, false), 0)
	if got.Duration != 600 {
		t.Errorf("Duration = %v, want 600", got.Duration)
	}
	if !got.IsFinished {
		t.Error("580/600 with default threshold should finish")
	}
}

func TestResolveFinishedIsSticky(t *testing.T) {
	positions := []float64{0, 3, 100, 599, 600, 1000}
	for _, lt := range positions {
		for _, rt := range positions {
			for _, side := range []string{"local", "remote", "both"} {
				local := snap(lt, 600, side != "remote")
				remote := snap(rt, 600, side != "local")
				got := Resolve(local, remote, DefaultFinishedThreshold)
				if !got.IsFinished {
					t.Errorf("Resolve(%v, %v) unset finished (%s finished)", local, remote, side)
				}
				if got.ResumeAt != 0 {
					t.Errorf("Resolve(%v, %v) resumes at %v, want 0", local, remote, got.ResumeAt)
				}
			}
		}
	}
}

func TestResolveReadOnlyNeverPushes(t *testing.T) {
	cases := [][2]domain.ProgressSnapshot{
		{snap(500, 600, false), snap(100, 600, false)},
		{snap(590, 600, true), snap(100, 600, false)},
		{snap(590, 600, true), snap(600, 600, true)},
		{snap(100, 600, false), snap(103, 600, false)},
		{snap(50, 0, false), snap(0, 0, false)},
	}
	for _, c := range cases {
		got := ResolveReadOnly(c[0], c[1], DefaultFinishedThreshold)
		if got.Action == ActionPushToRemote {
			t.Errorf("ResolveReadOnly(%v, %v) pushed", c[0], c[1])
		}
		if got.Action == ActionPullFromRemote {
			t.Errorf("ResolveReadOnly(%v, %v) pulled unexpectedly", c[0], c[1])
		}
	}
}

func TestResolveReadOnlyPulls(t *testing.T) {
	got := ResolveReadOnly(snap(100, 600, false), snap(300, 600, false), DefaultFinishedThreshold)
	if got.Action != ActionPullFromRemote || got.Time != 300 {
		t.Errorf("remote ahead: got %+v", got)
	}

	got = ResolveReadOnly(snap(100, 600, false), snap(100, 600, true), DefaultFinishedThreshold)
	if got.Action != ActionPullFromRemote || !got.IsFinished {
		t.Errorf("remote finished: got %+v", got)
	}
}

func TestLocalOnly(t *testing.T) {
	if got := localOnly(snap(120, 600, false)); got.ResumeAt != 120 || got.Action != ActionNone {
		t.Errorf("localOnly in progress = %+v", got)
	}
	if got := localOnly(snap(590, 600, true)); got.ResumeAt != 0 || !got.IsFinished {
		t.Errorf("localOnly finished = %+v", got)
	}
}
