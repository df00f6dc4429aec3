package audiobookshelf

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/mmcdole/shelfsync/internal/domain"
)

const (
	authTimeout = 30 * time.Second
)

// AuthFlow implements domain.AuthFlow with Audiobookshelf username/password login
type AuthFlow struct {
	logger     *slog.Logger
	httpClient *http.Client
	in         io.Reader
	out        io.Writer
}

// NewAuthFlow creates a new Audiobookshelf authentication flow
func NewAuthFlow(logger *slog.Logger) *AuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthFlow{
		logger: logger,
		httpClient: &http.Client{
			Timeout: authTimeout,
		},
		in:  os.Stdin,
		out: os.Stdout,
	}
}

// Run prompts for credentials and logs in against the server.
func (f *AuthFlow) Run(ctx context.Context, serverURL string) (*domain.AuthResult, error) {
	serverURL = strings.TrimRight(serverURL, "/")

	fmt.Fprintln(f.out)
	fmt.Fprintln(f.out, "Audiobookshelf Login")
	fmt.Fprintln(f.out, "━━━━━━━━━━━━━━━━━━━━")

	reader := bufio.NewReader(f.in)
	fmt.Fprint(f.out, "Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)

	// Prompt for password (hidden input)
	fmt.Fprint(f.out, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(f.out) // Add newline after hidden input

	fmt.Fprintln(f.out, "Authenticating...")
	result, err := f.Login(ctx, serverURL, username, string(passwordBytes))
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(f.out, "Logged in as %s\n", result.Username)
	return result, nil
}

// Login exchanges a username and password for an API token.
func (f *AuthFlow) Login(ctx context.Context, serverURL, username, password string) (*domain.AuthResult, error) {
	serverURL = strings.TrimRight(serverURL, "/")

	bodyBytes, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/login", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("audiobookshelf login request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		f.logger.Error("audiobookshelf login error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var loginResp LoginResponse
	if err := json.Unmarshal(respBody, &loginResp); err != nil {
		return nil, fmt.Errorf("%w: login response: %v", domain.ErrMalformedResponse, err)
	}
	if loginResp.User.Token == "" {
		return nil, fmt.Errorf("%w: login response has no token", domain.ErrMalformedResponse)
	}

	return &domain.AuthResult{
		Token:    loginResp.User.Token,
		UserID:   loginResp.User.ID,
		Username: loginResp.User.Username,
	}, nil
}

// PromptForServerURL prompts the user to enter an Audiobookshelf server URL
func PromptForServerURL() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter your Audiobookshelf server URL (e.g., http://192.168.1.100:13378): ")
	url, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(url), nil
}
