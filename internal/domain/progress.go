package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProgressKey identifies a playable unit: a library item, optionally narrowed
// to one podcast episode.
type ProgressKey struct {
	ItemID    string
	EpisodeID string
}

// NewProgressKey builds a key, rejecting an empty item id.
func NewProgressKey(itemID, episodeID string) (ProgressKey, error) {
	k := ProgressKey{ItemID: strings.TrimSpace(itemID), EpisodeID: strings.TrimSpace(episodeID)}
	if err := k.Validate(); err != nil {
		return ProgressKey{}, err
	}
	return k, nil
}

// Validate reports whether the key can address a record.
func (k ProgressKey) Validate() error {
	if k.ItemID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidKey)
	}
	return nil
}

// String renders the persisted table key: "<item>" or "<item>_<episode>".
// Item ids may themselves contain '_', so the rendering is not parsed back;
// records carry their own item and episode ids.
func (k ProgressKey) String() string {
	if k.EpisodeID != "" {
		return k.ItemID + "_" + k.EpisodeID
	}
	return k.ItemID
}

// ProgressRatio is current/duration, or 0 when the duration is unknown.
func ProgressRatio(currentTime, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return currentTime / duration
}

// ProgressRecord is the locally stored progress snapshot for one key.
// Timestamps are unix seconds; 0 means never.
type ProgressRecord struct {
	ItemID      string  `json:"item_id"`
	EpisodeID   string  `json:"episode_id,omitempty"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Progress    float64 `json:"progress"`
	IsFinished  bool    `json:"is_finished"`
	UpdatedAt   float64 `json:"updated_at"`
	NeedsUpload bool    `json:"needs_upload"`
	ServerTime  float64 `json:"server_time"`
	LastSynced  float64 `json:"last_synced"`
}

// NewProgressRecord validates its inputs and derives Progress.
func NewProgressRecord(key ProgressKey, currentTime, duration float64, isFinished bool) (ProgressRecord, error) {
	if err := key.Validate(); err != nil {
		return ProgressRecord{}, err
	}
	if currentTime < 0 {
		return ProgressRecord{}, fmt.Errorf("current time %.1f is negative", currentTime)
	}
	if duration < 0 {
		return ProgressRecord{}, fmt.Errorf("duration %.1f is negative", duration)
	}
	return ProgressRecord{
		ItemID:      key.ItemID,
		EpisodeID:   key.EpisodeID,
		CurrentTime: currentTime,
		Duration:    duration,
		Progress:    ProgressRatio(currentTime, duration),
		IsFinished:  isFinished,
	}, nil
}

// Key returns the record's identity.
func (r ProgressRecord) Key() ProgressKey {
	return ProgressKey{ItemID: r.ItemID, EpisodeID: r.EpisodeID}
}

// Snapshot reduces the record to the fields the merge engine compares.
func (r ProgressRecord) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{CurrentTime: r.CurrentTime, Duration: r.Duration, IsFinished: r.IsFinished}
}

// UpdatedTime converts UpdatedAt to a time.Time.
func (r ProgressRecord) UpdatedTime() time.Time {
	return UnixToTime(r.UpdatedAt)
}

// LastSyncedTime converts LastSynced to a time.Time (zero if never synced).
func (r ProgressRecord) LastSyncedTime() time.Time {
	return UnixToTime(r.LastSynced)
}

// ProgressSnapshot is one side of a merge: a position, a duration and the
// finished flag. The zero value means "no data".
type ProgressSnapshot struct {
	CurrentTime float64
	Duration    float64
	IsFinished  bool
}

// RemoteProgress is the server's view of one key.
type RemoteProgress struct {
	CurrentTime float64
	Duration    float64
	IsFinished  bool
	LastUpdate  time.Time
}

// Snapshot reduces the remote record to its merge fields.
func (p RemoteProgress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{CurrentTime: p.CurrentTime, Duration: p.Duration, IsFinished: p.IsFinished}
}

// SyncState is process-lifetime bookkeeping for the sync orchestrator.
type SyncState struct {
	LastFullSync   float64  `json:"last_full_sync"`
	LastServerPoll float64  `json:"last_server_poll"`
	WasOffline     bool     `json:"was_offline"`
	KnownItems     []string `json:"known_items"`
}

// Clone returns a deep copy.
func (s SyncState) Clone() SyncState {
	out := s
	out.KnownItems = append([]string(nil), s.KnownItems...)
	return out
}

// HasKnown reports whether the rendered key is tracked.
func (s SyncState) HasKnown(key string) bool {
	for _, k := range s.KnownItems {
		if k == key {
			return true
		}
	}
	return false
}

// SyncSummary counts what a batch reconciliation did.
type SyncSummary struct {
	Uploaded   int
	Downloaded int
}

// Total is uploads plus downloads.
func (s SyncSummary) Total() int {
	return s.Uploaded + s.Downloaded
}

// UnixNow returns the current time as fractional unix seconds.
func UnixNow() float64 {
	return TimeToUnix(time.Now())
}

// TimeToUnix converts t to fractional unix seconds.
func TimeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// UnixToTime converts fractional unix seconds to a time.Time; 0 is the zero time.
func UnixToTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}
