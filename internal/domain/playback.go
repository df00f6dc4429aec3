package domain

import "context"

// PlaybackClient provides network operations needed to start streaming.
type PlaybackClient interface {
	ResolvePlayableURL(ctx context.Context, key ProgressKey) (string, error)
}

// AuthResult contains the result of a successful authentication
type AuthResult struct {
	Token    string // Access token for API calls
	UserID   string // User identifier
	Username string // Display username
}

// AuthFlow runs an interactive login against a server and returns its
// credentials.
type AuthFlow interface {
	Run(ctx context.Context, serverURL string) (*AuthResult, error)
}
