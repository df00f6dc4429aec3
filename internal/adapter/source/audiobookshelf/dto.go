package audiobookshelf

// MediaProgress is the /api/me/progress response
type MediaProgress struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	EpisodeID     string  `json:"episodeId,omitempty"`
	Duration      float64 `json:"duration"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"currentTime"`
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"` // Unix milliseconds
	StartedAt     int64   `json:"startedAt"`
	FinishedAt    int64   `json:"finishedAt,omitempty"`
}

// progressUpdate is the PATCH /api/me/progress body
type progressUpdate struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	IsFinished  bool    `json:"isFinished"`
	Progress    float64 `json:"progress"`
}

// DeviceInfo identifies this client in playback sessions
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	ClientName string `json:"clientName"`
}

// localSessionRequest is the POST /api/session/local body
type localSessionRequest struct {
	LibraryItemID string     `json:"libraryItemId"`
	EpisodeID     string     `json:"episodeId,omitempty"`
	MediaPlayer   string     `json:"mediaPlayer"`
	DeviceInfo    DeviceInfo `json:"deviceInfo"`
}

// PlaybackSession is the subset of a session response we use
type PlaybackSession struct {
	ID            string `json:"id"`
	LibraryItemID string `json:"libraryItemId"`
	EpisodeID     string `json:"episodeId,omitempty"`
}

// sessionSync is the POST /api/session/local/{id}/sync body
type sessionSync struct {
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	TimeListened float64 `json:"timeListened"`
}

// LibraryItem is the expanded /api/items/{id} response, reduced to what
// stream URL resolution needs
type LibraryItem struct {
	ID        string `json:"id"`
	MediaType string `json:"mediaType"` // "book" or "podcast"
	Media     Media  `json:"media"`
}

// Media holds the playable parts of an item
type Media struct {
	Duration   float64     `json:"duration"`
	AudioFiles []AudioFile `json:"audioFiles"`
	Tracks     []Track     `json:"tracks"`
	Episodes   []Episode   `json:"episodes"`
	Metadata   Metadata    `json:"metadata"`
}

// Metadata is the display metadata of an item
type Metadata struct {
	Title      string `json:"title"`
	AuthorName string `json:"authorName"`
}

// AudioFile is one audio file of a book or an episode
type AudioFile struct {
	Index    int     `json:"index"`
	Ino      string  `json:"ino"`
	Duration float64 `json:"duration"`
}

// Track is a streamable track of a book
type Track struct {
	Index      int     `json:"index"`
	ContentURL string  `json:"contentUrl"`
	Duration   float64 `json:"duration"`
}

// Episode is one podcast episode
type Episode struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	AudioFile *AudioFile `json:"audioFile"`
	Duration  float64    `json:"duration"`
}

// loginRequest is the POST /login body
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the POST /login response
type LoginResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Token    string `json:"token"`
	} `json:"user"`
}

// pingResponse is the GET /ping response
type pingResponse struct {
	Success bool `json:"success"`
}
