package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/mmcdole/shelfsync/internal/domain"
)

// ImportLegacyJSON merges a progress_unified.json table in the legacy
// layout ({"<key>": {item_id, episode_id, current_time, ...}}) and, if
// statePath is non-empty, its sync_state.json. An incoming record replaces
// a stored one only when its updated_at is newer. Missing files are not an
// error. Returns the number of records imported.
func (s *ProgressStore) ImportLegacyJSON(progressPath, statePath string) (int, error) {
	data, err := os.ReadFile(progressPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy progress: %w", err)
	}

	var table map[string]domain.ProgressRecord
	if err := json.Unmarshal(data, &table); err != nil {
		return 0, fmt.Errorf("failed to parse legacy progress: %w", err)
	}

	var legacyState *domain.SyncState
	if statePath != "" {
		if raw, err := os.ReadFile(statePath); err == nil {
			var st domain.SyncState
			if err := json.Unmarshal(raw, &st); err != nil {
				s.logger.Warn("ignoring unreadable legacy sync state", "path", statePath, "error", err)
			} else {
				legacyState = &st
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imported := 0
	for _, rec := range table {
		if rec.ItemID == "" || rec.CurrentTime < 0 || rec.Duration < 0 {
			continue
		}
		k := rec.Key().String()
		if existing, ok := s.records[k]; ok && existing.UpdatedAt >= rec.UpdatedAt {
			continue
		}
		rec.Progress = domain.ProgressRatio(rec.CurrentTime, rec.Duration)
		s.records[k] = rec
		if !s.state.HasKnown(k) {
			s.state.KnownItems = append(s.state.KnownItems, k)
		}
		s.persist(k, &rec, false)
		imported++
	}

	if legacyState != nil {
		s.state.LastFullSync = max(s.state.LastFullSync, legacyState.LastFullSync)
		s.state.LastServerPoll = max(s.state.LastServerPoll, legacyState.LastServerPoll)
		s.state.WasOffline = s.state.WasOffline || legacyState.WasOffline
	}
	s.persist("", nil, true)

	s.logger.Info("imported legacy progress", "path", progressPath, "records", imported)
	return imported, nil
}
