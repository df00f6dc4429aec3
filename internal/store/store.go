package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmcdole/shelfsync/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketProgress = []byte("progress")
	bucketState    = []byte("state")
)

var stateKey = []byte("sync_state")

// ProgressStore implements domain.ProgressStore using BoltDB.
//
// The whole table lives in memory; BoltDB is the durable copy. Every write
// goes to memory first and is then persisted in its own transaction.
// Persistence failures are logged and swallowed: a lost resume point
// degrades to "start from zero", a failed write must not stop playback.
type ProgressStore struct {
	db     *bolt.DB
	logger *slog.Logger

	mu      sync.RWMutex // Protects records and state
	records map[string]domain.ProgressRecord
	state   domain.SyncState

	now func() time.Time
}

// NewProgressStore opens (or creates) the store under dataDir. An empty
// dataDir gives a memory-only store.
func NewProgressStore(dataDir string, logger *slog.Logger) (*ProgressStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProgressStore{
		logger:  logger,
		records: make(map[string]domain.ProgressRecord),
		now:     time.Now,
	}
	if dataDir == "" {
		// Memory-only mode (no persistence)
		return s, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "progress.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProgress, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("progress store opened", "path", dbPath, "records", len(s.records))
	return s, nil
}

// load reads the durable table into memory. Undecodable entries are skipped.
func (s *ProgressStore) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketProgress).ForEach(func(k, v []byte) error {
			var rec domain.ProgressRecord
			if err := json.Unmarshal(v, &rec); err != nil || rec.ItemID == "" {
				s.logger.Warn("skipping unreadable progress entry", "key", string(k), "error", err)
				return nil
			}
			rec.Progress = domain.ProgressRatio(rec.CurrentTime, rec.Duration)
			s.records[string(k)] = rec
			return nil
		})
		if err != nil {
			return err
		}
		if v := tx.Bucket(bucketState).Get(stateKey); v != nil {
			if err := json.Unmarshal(v, &s.state); err != nil {
				s.logger.Warn("resetting unreadable sync state", "error", err)
				s.state = domain.SyncState{}
			}
		}
		return nil
	})
}

func (s *ProgressStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Records ===

func (s *ProgressStore) Get(key domain.ProgressKey) (*domain.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Put writes a full record. A write whose data came from the server
// (fromServer) is never pending and stamps server_time/last_synced; a local
// write keeps the previous confirmation stamps.
func (s *ProgressStore) Put(key domain.ProgressKey, currentTime, duration float64, isFinished, needsUpload, fromServer bool) domain.ProgressRecord {
	rec, err := domain.NewProgressRecord(key, max(currentTime, 0), max(duration, 0), isFinished)
	if err != nil {
		// Only an empty item id gets here; callers validate keys.
		s.logger.Error("rejecting progress write", "key", key.String(), "error", err)
		return domain.ProgressRecord{}
	}

	now := domain.TimeToUnix(s.now())
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	existing := s.records[k]
	if fromServer {
		rec.NeedsUpload = false
		rec.ServerTime = rec.CurrentTime
		rec.LastSynced = now
	} else {
		rec.NeedsUpload = needsUpload
		rec.ServerTime = existing.ServerTime
		rec.LastSynced = existing.LastSynced
	}
	s.records[k] = rec

	newKey := !s.state.HasKnown(k)
	if newKey {
		s.state.KnownItems = append(s.state.KnownItems, k)
	}
	s.persist(k, &rec, newKey)

	s.logger.Debug("saved progress",
		"key", k,
		"current_time", rec.CurrentTime,
		"duration", rec.Duration,
		"finished", rec.IsFinished,
		"needs_upload", rec.NeedsUpload,
		"from_server", fromServer,
	)
	return rec
}

// MarkUploaded records a confirmed remote write of confirmedTime. The
// pending flag is cleared only if no newer local sample arrived while the
// upload was in flight; it returns whether the record is now clean.
func (s *ProgressStore) MarkUploaded(key domain.ProgressKey, confirmedTime float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	rec, ok := s.records[k]
	if !ok {
		return false
	}
	rec.ServerTime = confirmedTime
	rec.LastSynced = domain.TimeToUnix(s.now())
	if rec.CurrentTime == confirmedTime {
		rec.NeedsUpload = false
	}
	s.records[k] = rec
	s.persist(k, &rec, false)
	return !rec.NeedsUpload
}

// === Snapshots ===

// Pending returns copies of all records awaiting upload, oldest first.
func (s *ProgressStore) Pending() []domain.ProgressRecord {
	s.mu.RLock()
	out := make([]domain.ProgressRecord, 0)
	for _, rec := range s.records {
		if rec.NeedsUpload {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sortByUpdated(out)
	return out
}

// All returns copies of every record, oldest first.
func (s *ProgressStore) All() []domain.ProgressRecord {
	s.mu.RLock()
	out := make([]domain.ProgressRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortByUpdated(out)
	return out
}

// KnownKeys resolves the tracked key list through the table.
func (s *ProgressStore) KnownKeys() []domain.ProgressKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.ProgressKey, 0, len(s.state.KnownItems))
	for _, k := range s.state.KnownItems {
		if rec, ok := s.records[k]; ok {
			keys = append(keys, rec.Key())
		}
	}
	return keys
}

// === Sync State ===

func (s *ProgressStore) SyncState() domain.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// UpdateSyncState applies fn under the store lock and persists the result.
// fn must not block.
func (s *ProgressStore) UpdateSyncState(fn func(*domain.SyncState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.persist("", nil, true)
}

// persist writes one record and, optionally, the sync state. Caller holds mu.
func (s *ProgressStore) persist(key string, rec *domain.ProgressRecord, withState bool) {
	if s.db == nil {
		return // Memory-only mode
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if rec != nil {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketProgress).Put([]byte(key), data); err != nil {
				return err
			}
		}
		if withState {
			data, err := json.Marshal(s.state)
			if err != nil {
				return err
			}
			return tx.Bucket(bucketState).Put(stateKey, data)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to persist progress", "key", key, "error", err)
	}
}

func sortByUpdated(recs []domain.ProgressRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UpdatedAt != recs[j].UpdatedAt {
			return recs[i].UpdatedAt < recs[j].UpdatedAt
		}
		return recs[i].Key().String() < recs[j].Key().String()
	})
}
