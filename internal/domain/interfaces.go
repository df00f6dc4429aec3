package domain

import "context"

// ProgressGateway is the remote side of progress sync. Implementations return
// ErrNotFound when the server has no progress for a key.
type ProgressGateway interface {
	FetchProgress(ctx context.Context, key ProgressKey) (*RemoteProgress, error)
	UpdateProgress(ctx context.Context, key ProgressKey, currentTime, duration float64, isFinished bool) error

	// Playback sessions are best-effort; callers ignore failures.
	OpenSession(ctx context.Context, key ProgressKey) (string, error)
	SyncSession(ctx context.Context, sessionID string, currentTime, duration, timeListened float64) error
	CloseSession(ctx context.Context, sessionID string) error
}

// Player is the live media player a monitor samples. Positions are seconds
// on the item's timeline.
type Player interface {
	IsPlaying(ctx context.Context) (bool, error)
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	SeekTo(ctx context.Context, seconds float64) error
}

// OfflineLocator maps a timeline position to a downloaded file and the
// offset within it.
type OfflineLocator interface {
	LocateForPosition(key ProgressKey, position float64) (path string, seekWithinFile float64, err error)
}

// Notifier surfaces informational messages to the user.
type Notifier interface {
	Notify(title, message string)
}

// WatchedMarker receives a one-time signal when playback finishes an item.
type WatchedMarker interface {
	MarkWatched(ctx context.Context, key ProgressKey) error
}

// PlayerProcess is a launched player whose playback can be sampled.
type PlayerProcess interface {
	Player() Player
	Done() <-chan struct{}
	Kill() error
}
