package audiobookshelf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mmcdole/shelfsync/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond

	clientName = "shelfsync"
)

// Client talks to an Audiobookshelf server. It implements
// domain.ProgressGateway and domain.PlaybackClient.
type Client struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	breaker    *breaker
	logger     *slog.Logger

	retryDelay time.Duration
}

// NewClient creates a new Audiobookshelf API client. A zero timeout uses
// the default.
func NewClient(baseURL, token, deviceID string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker:    newBreaker(logger),
		logger:     logger,
		retryDelay: baseRetryDelay,
	}
}

// BaseURL is the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an authenticated request through the circuit breaker.
// 5xx responses and transport failures are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL = reqURL + "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return c.breaker.execute(func() ([]byte, error) {
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if attempt > 0 {
				delay := c.retryDelay * time.Duration(1<<(attempt-1)) // 500ms, 1s, 2s
				c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "path", path)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			respBody, retry, err := c.do(ctx, method, reqURL, body)
			if err == nil {
				return respBody, nil
			}
			if !retry {
				return nil, err
			}
			lastErr = err
			c.logger.Warn("audiobookshelf request failed, will retry",
				"method", method,
				"path", path,
				"attempt", attempt,
				"maxRetries", maxRetries,
				"error", err,
			)
		}

		c.logger.Error("audiobookshelf request failed after retries", "method", method, "path", path, "error", lastErr)
		return nil, lastErr
	})
}

// do performs a single attempt. retry reports whether the failure is worth
// another attempt.
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) (respBody []byte, retry bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: failed to read response: %v", domain.ErrServerOffline, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, false, domain.ErrAuthFailed
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: server error %d", domain.ErrServerOffline, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("audiobookshelf request error", "status", resp.StatusCode, "body", string(respBody))
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return respBody, false, nil
}

func progressPath(key domain.ProgressKey) string {
	path := "/api/me/progress/" + url.PathEscape(key.ItemID)
	if key.EpisodeID != "" {
		path += "/" + url.PathEscape(key.EpisodeID)
	}
	return path
}

// FetchProgress returns the server's progress for key, or domain.ErrNotFound.
func (c *Client) FetchProgress(ctx context.Context, key domain.ProgressKey) (*domain.RemoteProgress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodGet, progressPath(key), nil, nil)
	if err != nil {
		return nil, err
	}

	var mp MediaProgress
	if err := json.Unmarshal(body, &mp); err != nil {
		return nil, fmt.Errorf("%w: progress for %s: %v", domain.ErrMalformedResponse, key, err)
	}

	remote := &domain.RemoteProgress{
		CurrentTime: mp.CurrentTime,
		Duration:    mp.Duration,
		IsFinished:  mp.IsFinished,
	}
	if mp.LastUpdate > 0 {
		remote.LastUpdate = time.UnixMilli(mp.LastUpdate)
	}
	return remote, nil
}

// UpdateProgress writes progress for key. The response body is ignored.
func (c *Client) UpdateProgress(ctx context.Context, key domain.ProgressKey, currentTime, duration float64, isFinished bool) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := c.doRequest(ctx, http.MethodPatch, progressPath(key), nil, progressUpdate{
		CurrentTime: currentTime,
		Duration:    duration,
		IsFinished:  isFinished,
		Progress:    domain.ProgressRatio(currentTime, duration),
	})
	return err
}

// OpenSession starts a local playback session and returns its id.
func (c *Client) OpenSession(ctx context.Context, key domain.ProgressKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/session/local", nil, localSessionRequest{
		LibraryItemID: key.ItemID,
		EpisodeID:     key.EpisodeID,
		MediaPlayer:   clientName,
		DeviceInfo: DeviceInfo{
			DeviceID:   c.deviceID,
			ClientName: clientName,
		},
	})
	if err != nil {
		return "", err
	}

	var session PlaybackSession
	if err := json.Unmarshal(body, &session); err != nil || session.ID == "" {
		return "", fmt.Errorf("%w: session response for %s", domain.ErrMalformedResponse, key)
	}
	return session.ID, nil
}

// SyncSession reports position and listening time for an open session.
func (c *Client) SyncSession(ctx context.Context, sessionID string, currentTime, duration, timeListened float64) error {
	path := "/api/session/local/" + url.PathEscape(sessionID) + "/sync"
	_, err := c.doRequest(ctx, http.MethodPost, path, nil, sessionSync{
		CurrentTime:  currentTime,
		Duration:     duration,
		TimeListened: timeListened,
	})
	return err
}

// CloseSession ends a playback session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	path := "/api/session/local/" + url.PathEscape(sessionID) + "/close"
	_, err := c.doRequest(ctx, http.MethodPost, path, nil, nil)
	return err
}

// GetItem fetches an expanded library item.
func (c *Client) GetItem(ctx context.Context, key domain.ProgressKey) (*LibraryItem, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("expanded", "1")
	if key.EpisodeID != "" {
		query.Set("episode", key.EpisodeID)
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/items/"+url.PathEscape(key.ItemID), query, nil)
	if err != nil {
		return nil, err
	}

	var item LibraryItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: item %s: %v", domain.ErrMalformedResponse, key.ItemID, err)
	}
	return &item, nil
}

// ResolvePlayableURL returns a direct stream URL for key. Episodes play
// their own audio file, books play their first audio file, and the first
// track's content URL is the fallback.
func (c *Client) ResolvePlayableURL(ctx context.Context, key domain.ProgressKey) (string, error) {
	item, err := c.GetItem(ctx, key)
	if err != nil {
		return "", err
	}

	if ino := pickAudioFile(item, key.EpisodeID); ino != "" {
		return fmt.Sprintf("%s/api/items/%s/file/%s?token=%s",
			c.baseURL, url.PathEscape(key.ItemID), url.PathEscape(ino), url.QueryEscape(c.token)), nil
	}

	if len(item.Media.Tracks) > 0 && item.Media.Tracks[0].ContentURL != "" {
		contentURL := item.Media.Tracks[0].ContentURL
		sep := "?"
		if strings.Contains(contentURL, "?") {
			sep = "&"
		}
		return c.baseURL + contentURL + sep + "token=" + url.QueryEscape(c.token), nil
	}

	return "", fmt.Errorf("no playable audio for %s", key)
}

func pickAudioFile(item *LibraryItem, episodeID string) string {
	if episodeID != "" {
		for _, ep := range item.Media.Episodes {
			if ep.ID == episodeID && ep.AudioFile != nil {
				return ep.AudioFile.Ino
			}
		}
		return ""
	}

	files := append([]AudioFile(nil), item.Media.AudioFiles...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Index < files[j].Index })
	for _, f := range files {
		if f.Ino != "" {
			return f.Ino
		}
	}
	return ""
}

// Ping checks that the server answers. It makes one attempt and bypasses
// the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	body, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	var resp pingResponse
	if err := json.Unmarshal(body, &resp); err != nil || !resp.Success {
		return fmt.Errorf("%w: ping", domain.ErrMalformedResponse)
	}
	return nil
}

// IsAuthError reports whether err means the stored token was rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthFailed)
}
