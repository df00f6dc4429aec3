package service

import (
	"math"

	"github.com/mmcdole/shelfsync/internal/domain"
)

const (
	// ProgressThreshold is the smallest position difference, in seconds,
	// treated as a real disagreement between local and remote.
	ProgressThreshold = 5.0

	// DefaultFinishedThreshold is the fraction of duration past which a
	// pulled position counts as finished.
	DefaultFinishedThreshold = 0.95
)

// Action tells the caller which side a resolution needs written.
type Action int

const (
	ActionNone Action = iota
	ActionPullFromRemote
	ActionPushToRemote
)

func (a Action) String() string {
	switch a {
	case ActionPullFromRemote:
		return "pull"
	case ActionPushToRemote:
		return "push"
	default:
		return "none"
	}
}

// Resolution is the outcome of merging a local and a remote snapshot.
// Time is the position to write to the side named by Action; ResumeAt is
// where playback should start (always 0 for a finished item).
type Resolution struct {
	Time       float64
	ResumeAt   float64
	IsFinished bool
	Duration   float64
	Action     Action
}

// Resolve reconciles local and remote progress for one key. It is a pure
// decision: the caller performs the writes named by Action.
//
// Rules, first match wins:
//  1. no data on either side: nothing to do
//  2. remote finished, local not: pull
//  3. local finished, remote not: push
//  4. both finished: nothing to write, resume from 0
//  5. positions differ by more than ProgressThreshold: the larger wins;
//     a pulled position past finishedThreshold marks the item finished
//  6. otherwise take the furthest position without writing
func Resolve(local, remote domain.ProgressSnapshot, finishedThreshold float64) Resolution {
	if finishedThreshold <= 0 {
		finishedThreshold = DefaultFinishedThreshold
	}
	duration := math.Max(local.Duration, remote.Duration)

	switch {
	case duration == 0 && local.CurrentTime == 0 && remote.CurrentTime == 0:
		return Resolution{}

	case remote.IsFinished && !local.IsFinished:
		return Resolution{Time: remote.CurrentTime, IsFinished: true, Duration: duration, Action: ActionPullFromRemote}

	case local.IsFinished && !remote.IsFinished:
		return Resolution{Time: local.CurrentTime, IsFinished: true, Duration: duration, Action: ActionPushToRemote}

	case local.IsFinished && remote.IsFinished:
		return Resolution{IsFinished: true, Duration: duration}
	}

	if math.Abs(local.CurrentTime-remote.CurrentTime) > ProgressThreshold {
		if remote.CurrentTime > local.CurrentTime {
			return pullResolution(remote.CurrentTime, duration, finishedThreshold)
		}
		return Resolution{
			Time:       local.CurrentTime,
			ResumeAt:   local.CurrentTime,
			IsFinished: local.IsFinished,
			Duration:   duration,
			Action:     ActionPushToRemote,
		}
	}

	best := math.Max(local.CurrentTime, remote.CurrentTime)
	return Resolution{Time: best, ResumeAt: best, Duration: duration}
}

// ResolveReadOnly is the poller's variant of Resolve: it only ever pulls
// (rule 2 and the remote-wins branch of rule 5) and never asks for a push.
func ResolveReadOnly(local, remote domain.ProgressSnapshot, finishedThreshold float64) Resolution {
	if finishedThreshold <= 0 {
		finishedThreshold = DefaultFinishedThreshold
	}
	duration := math.Max(local.Duration, remote.Duration)

	switch {
	case duration == 0 && local.CurrentTime == 0 && remote.CurrentTime == 0:
		return Resolution{}
	case local.IsFinished:
		return Resolution{IsFinished: true, Duration: duration}
	case remote.IsFinished:
		return Resolution{Time: remote.CurrentTime, IsFinished: true, Duration: duration, Action: ActionPullFromRemote}
	case remote.CurrentTime-local.CurrentTime > ProgressThreshold:
		return pullResolution(remote.CurrentTime, duration, finishedThreshold)
	}
	return Resolution{Time: local.CurrentTime, ResumeAt: local.CurrentTime, Duration: duration}
}

func pullResolution(remoteTime, duration, finishedThreshold float64) Resolution {
	finished := duration > 0 && remoteTime/duration >= finishedThreshold
	res := Resolution{Time: remoteTime, IsFinished: finished, Duration: duration, Action: ActionPullFromRemote}
	if !finished {
		res.ResumeAt = remoteTime
	}
	return res
}

// localOnly resolves without remote data: the stored record is the truth.
func localOnly(local domain.ProgressSnapshot) Resolution {
	if local.IsFinished {
		return Resolution{IsFinished: true, Duration: local.Duration}
	}
	return Resolution{Time: local.CurrentTime, ResumeAt: local.CurrentTime, Duration: local.Duration}
}
