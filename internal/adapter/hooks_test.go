package adapter

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mmcdole/shelfsync/internal/domain"
)

func TestWebhookMarker(t *testing.T) {
	got := make(chan watchedEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev watchedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		got <- ev
	}))
	defer srv.Close()

	m := NewWebhookMarker(srv.URL, NullLogger())
	if err := m.MarkWatched(context.Background(), domain.ProgressKey{ItemID: "li_pod", EpisodeID: "ep_1"}); err != nil {
		t.Fatalf("MarkWatched() error = %v", err)
	}
	ev := <-got
	if ev.ItemID != "li_pod" || ev.EpisodeID != "ep_1" || ev.FinishedAt == 0 {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebhookMarkerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	if err := NewWebhookMarker(srv.URL, NullLogger()).MarkWatched(context.Background(), domain.ProgressKey{ItemID: "x"}); err == nil {
		t.Error("MarkWatched() ignored a failing status")
	}
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleNotifier(&buf, NullLogger()).Notify("Sync Complete", "3 items synced")
	if got := buf.String(); got != "Sync Complete: 3 items synced\n" {
		t.Errorf("output = %q", got)
	}
	// Log-only notifier must not panic
	NewConsoleNotifier(nil, NullLogger()).Notify("a", "b")
}
