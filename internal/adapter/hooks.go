package adapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mmcdole/shelfsync/internal/domain"
)

const webhookTimeout = 10 * time.Second

// WebhookMarker POSTs a JSON event to a URL when playback finishes an item.
// It implements domain.WatchedMarker.
type WebhookMarker struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// watchedEvent is the webhook body
type watchedEvent struct {
	ItemID     string `json:"item_id"`
	EpisodeID  string `json:"episode_id,omitempty"`
	FinishedAt int64  `json:"finished_at"`
}

// NewWebhookMarker creates a marker posting to url
func NewWebhookMarker(url string, logger *slog.Logger) *WebhookMarker {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookMarker{
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     logger,
	}
}

func (m *WebhookMarker) MarkWatched(ctx context.Context, key domain.ProgressKey) error {
	body, err := json.Marshal(watchedEvent{
		ItemID:     key.ItemID,
		EpisodeID:  key.EpisodeID,
		FinishedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal watched event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("watched webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("watched webhook returned status %d", resp.StatusCode)
	}
	m.logger.Debug("watched webhook delivered", "key", key.String())
	return nil
}

// ConsoleNotifier writes notifications to a terminal and the log.
// It implements domain.Notifier.
type ConsoleNotifier struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewConsoleNotifier creates a notifier writing to out. A nil out only logs.
func NewConsoleNotifier(out io.Writer, logger *slog.Logger) *ConsoleNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleNotifier{out: out, logger: logger}
}

func (n *ConsoleNotifier) Notify(title, message string) {
	n.logger.Info("notification", "title", title, "message", message)
	if n.out == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "%s: %s\n", title, message)
}
