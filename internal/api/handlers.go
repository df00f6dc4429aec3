package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mmcdole/shelfsync/internal/domain"
)

// errorResponse is the body of every non-2xx reply
type errorResponse struct {
	Error string `json:"error"`
}

// progressResponse is one stored record
type progressResponse struct {
	ItemID      string  `json:"item_id"`
	EpisodeID   string  `json:"episode_id,omitempty"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Progress    float64 `json:"progress"`
	IsFinished  bool    `json:"is_finished"`
	NeedsUpload bool    `json:"needs_upload"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
	LastSynced  string  `json:"last_synced,omitempty"`
}

// syncResponse reports what a sync request did
type syncResponse struct {
	Online     bool `json:"online"`
	Uploaded   int  `json:"uploaded"`
	Downloaded int  `json:"downloaded"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// keyFromRequest reads the item id path parameter and the optional
// episode query parameter.
func keyFromRequest(r *http.Request) (domain.ProgressKey, error) {
	return domain.NewProgressKey(chi.URLParam(r, "itemID"), r.URL.Query().Get("episode"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "online": h.sync.IsOnline()})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.Status())
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := h.sync.Progress(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no progress for "+key.String())
		return
	}

	resp := progressResponse{
		ItemID:      rec.ItemID,
		EpisodeID:   rec.EpisodeID,
		CurrentTime: rec.CurrentTime,
		Duration:    rec.Duration,
		Progress:    rec.Progress,
		IsFinished:  rec.IsFinished,
		NeedsUpload: rec.NeedsUpload,
	}
	if t := rec.UpdatedTime(); !t.IsZero() {
		resp.UpdatedAt = t.UTC().Format(time.RFC3339)
	}
	if t := rec.LastSyncedTime(); !t.IsZero() {
		resp.LastSynced = t.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	if !h.sync.IsOnline() {
		writeError(w, http.StatusServiceUnavailable, domain.ErrOffline.Error())
		return
	}
	summary := h.sync.SyncAll(r.Context())
	writeJSON(w, http.StatusOK, syncResponse{
		Online:     true,
		Uploaded:   summary.Uploaded,
		Downloaded: summary.Downloaded,
	})
}

func (h *Handler) SyncItem(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.sync.IsOnline() {
		writeError(w, http.StatusServiceUnavailable, domain.ErrOffline.Error())
		return
	}

	pulled, pushed := h.sync.SyncItemBidirectional(r.Context(), key)
	resp := syncResponse{Online: true}
	if pulled {
		resp.Downloaded = 1
	}
	if pushed {
		resp.Uploaded = 1
	}
	writeJSON(w, http.StatusOK, resp)
}
