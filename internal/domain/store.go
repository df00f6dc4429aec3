package domain

// ProgressStore is the local progress table (BoltDB + memory).
// All methods are safe for concurrent use; reads return copies.
type ProgressStore interface {
	// === Records ===
	Get(key ProgressKey) (*ProgressRecord, bool)
	Put(key ProgressKey, currentTime, duration float64, isFinished, needsUpload, fromServer bool) ProgressRecord
	MarkUploaded(key ProgressKey, confirmedTime float64) bool

	// === Snapshots ===
	Pending() []ProgressRecord
	All() []ProgressRecord
	KnownKeys() []ProgressKey

	// === Sync State ===
	SyncState() SyncState
	UpdateSyncState(fn func(*SyncState))

	Close() error
}
