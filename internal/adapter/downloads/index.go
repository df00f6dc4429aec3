// Package downloads reads the offline download index and maps book-timeline
// positions onto downloaded files.
package downloads

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/mmcdole/shelfsync/internal/domain"
)

// IndexFile is the index file name inside the downloads directory.
const IndexFile = "downloads.json"

// File is one downloaded part of a multi-file item.
type File struct {
	Path     string  `json:"path"`
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
}

// Entry describes one downloaded item or episode.
type Entry struct {
	ItemID       string  `json:"item_id"`
	EpisodeID    string  `json:"episode_id,omitempty"`
	Title        string  `json:"title"`
	FilePath     string  `json:"file_path,omitempty"`
	CoverPath    string  `json:"cover_path,omitempty"`
	Duration     float64 `json:"duration"`
	Files        []File  `json:"files,omitempty"`
	IsMultifile  bool    `json:"is_multifile"`
	DownloadedAt string  `json:"downloaded_at,omitempty"`
	FileSize     int64   `json:"file_size,omitempty"`
}

// Key returns the progress key the entry belongs to.
func (e Entry) Key() domain.ProgressKey {
	return domain.ProgressKey{ItemID: e.ItemID, EpisodeID: e.EpisodeID}
}

// sortedFiles returns the parts in playback order.
func (e Entry) sortedFiles() []File {
	files := append([]File(nil), e.Files...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Index < files[j].Index })
	return files
}

// Location is where a timeline position lands on disk.
type Location struct {
	Path      string  // File to play
	Seek      float64 // Offset within Path
	FileStart float64 // Timeline position at which Path begins
}

// Index is the in-memory view of downloads.json.
type Index struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the index from dir. A missing index is an empty index.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{
		path:    filepath.Join(dir, IndexFile),
		logger:  logger,
		entries: make(map[string]Entry),
	}
	if err := idx.Reload(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Reload re-reads the index file.
func (x *Index) Reload() error {
	data, err := os.ReadFile(x.path)
	if errors.Is(err, os.ErrNotExist) {
		x.mu.Lock()
		x.entries = make(map[string]Entry)
		x.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read download index: %w", err)
	}

	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse download index: %w", err)
	}

	entries := make(map[string]Entry, len(raw))
	for k, e := range raw {
		if e.ItemID == "" {
			x.logger.Warn("skipping download entry without item id", "key", k)
			continue
		}
		entries[e.Key().String()] = e
	}

	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
	x.logger.Debug("loaded download index", "path", x.path, "entries", len(entries))
	return nil
}

// Info returns the entry for key.
func (x *Index) Info(key domain.ProgressKey) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[key.String()]
	return e, ok
}

// Entries returns all entries ordered by key.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	out := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// IsDownloaded reports whether key has an entry whose files all exist.
func (x *Index) IsDownloaded(key domain.ProgressKey) bool {
	e, ok := x.Info(key)
	if !ok {
		return false
	}
	if len(e.Files) > 0 {
		for _, f := range e.Files {
			if !fileExists(f.Path) {
				return false
			}
		}
		return true
	}
	return fileExists(e.FilePath)
}

// Locate maps a timeline position onto the downloaded files. Positions past
// the end land at the start of the last file. An entry whose files are not
// all on disk is not downloaded.
func (x *Index) Locate(key domain.ProgressKey, position float64) (Location, error) {
	e, ok := x.Info(key)
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", domain.ErrNotDownloaded, key)
	}
	if !x.IsDownloaded(key) {
		return Location{}, fmt.Errorf("%w: %s has missing files", domain.ErrNotDownloaded, key)
	}
	if position < 0 {
		position = 0
	}

	if !e.IsMultifile || len(e.Files) == 0 {
		if e.FilePath == "" {
			return Location{}, fmt.Errorf("%w: %s has no file", domain.ErrNotDownloaded, key)
		}
		return Location{Path: e.FilePath, Seek: position}, nil
	}

	files := e.sortedFiles()
	var cumulative float64
	for _, f := range files {
		if cumulative <= position && position < cumulative+f.Duration {
			return Location{Path: f.Path, Seek: position - cumulative, FileStart: cumulative}, nil
		}
		cumulative += f.Duration
	}

	last := files[len(files)-1]
	return Location{Path: last.Path, FileStart: cumulative - last.Duration}, nil
}

// LocateForPosition implements domain.OfflineLocator.
func (x *Index) LocateForPosition(key domain.ProgressKey, position float64) (string, float64, error) {
	loc, err := x.Locate(key, position)
	if err != nil {
		return "", 0, err
	}
	return loc.Path, loc.Seek, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
