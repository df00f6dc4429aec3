package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Player  PlayerConfig  `mapstructure:"player"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	Hooks   HooksConfig   `mapstructure:"hooks"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds Audiobookshelf server configuration
type ServerConfig struct {
	URL      string `mapstructure:"url"`       // Server URL
	Token    string `mapstructure:"token"`     // API token from /login
	Username string `mapstructure:"username"`  // Display only
	DeviceID string `mapstructure:"device_id"` // Sent with playback sessions
}

// PlayerConfig holds media player configuration
type PlayerConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	IPCSocket string   `mapstructure:"ipc_socket"` // mpv --input-ipc-server path
}

// SyncConfig holds sync cadences and thresholds
type SyncConfig struct {
	SyncInterval       time.Duration `mapstructure:"sync_interval"`        // Local save cadence during playback
	ServerSyncInterval time.Duration `mapstructure:"server_sync_interval"` // Remote sync cadence during playback
	PollInterval       time.Duration `mapstructure:"poll_interval"`        // Background server poll
	CheckInterval      time.Duration `mapstructure:"check_interval"`       // Background pending-upload retry
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`       // Connectivity probe
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	FinishedThreshold  float64       `mapstructure:"finished_threshold"`
	UploadRate         float64       `mapstructure:"upload_rate"` // Uploads per second in a batch, 0 = unlimited
}

// StorageConfig holds local data paths
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	DownloadsDir string `mapstructure:"downloads_dir"`
}

// HooksConfig holds optional integrations
type HooksConfig struct {
	WatchedWebhook string `mapstructure:"watched_webhook"` // POSTed once when an item finishes
}

// APIConfig holds the daemon's local HTTP API settings
type APIConfig struct {
	Listen string `mapstructure:"listen"` // Empty disables the API
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File   string `mapstructure:"file"` // "-" logs to stderr
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			Command: "mpv",
			Args:    []string{},
		},
		Sync: SyncConfig{
			SyncInterval:       15 * time.Second,
			ServerSyncInterval: 60 * time.Second,
			PollInterval:       300 * time.Second,
			CheckInterval:      60 * time.Second,
			ProbeInterval:      30 * time.Second,
			RequestTimeout:     10 * time.Second,
			FinishedThreshold:  0.95,
			UploadRate:         5,
		},
		Storage: StorageConfig{
			DataDir:      defaultDataPath(),
			DownloadsDir: filepath.Join(defaultDataPath(), "downloads"),
		},
		API: APIConfig{
			Listen: "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			File:   filepath.Join(defaultDataPath(), "shelfsync.log"),
			Level:  "INFO",
			Format: "json",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "shelfsync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "shelfsync")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "shelfsync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "shelfsync")
	}
}

// ConfigStore loads and saves the YAML config file. An empty dir uses the
// OS default location.
type ConfigStore struct {
	v   *viper.Viper
	dir string
}

// NewConfigStore creates a config store rooted at dir.
func NewConfigStore(dir string) *ConfigStore {
	if dir == "" {
		dir = defaultConfigPath()
	}
	return &ConfigStore{v: viper.New(), dir: dir}
}

// Path is the config file location.
func (s *ConfigStore) Path() string {
	return filepath.Join(s.dir, "config.yaml")
}

// Load reads configuration from file and environment. A missing file is
// not an error. A device id is generated and saved if none is set.
func (s *ConfigStore) Load() (*Config, error) {
	cfg := DefaultConfig()

	s.v.SetConfigName("config")
	s.v.SetConfigType("yaml")
	s.v.AddConfigPath(s.dir)

	// Environment variable overrides, e.g. SHELFSYNC_SERVER_URL
	s.v.SetEnvPrefix("SHELFSYNC")
	s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	s.v.AutomaticEnv()
	for _, key := range []string{"server.url", "server.token", "storage.data_dir", "api.listen", "logging.level"} {
		_ = s.v.BindEnv(key)
	}

	if err := s.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Server.DeviceID == "" {
		cfg.Server.DeviceID = uuid.NewString()
		s.v.Set("server.device_id", cfg.Server.DeviceID)
		if err := s.write(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes the full configuration
func (s *ConfigStore) Save(cfg *Config) error {
	// Set fields individually to ensure correct key names (snake_case)
	s.v.Set("server.url", cfg.Server.URL)
	s.v.Set("server.token", cfg.Server.Token)
	s.v.Set("server.username", cfg.Server.Username)
	s.v.Set("server.device_id", cfg.Server.DeviceID)

	s.v.Set("player.command", cfg.Player.Command)
	s.v.Set("player.args", cfg.Player.Args)
	s.v.Set("player.ipc_socket", cfg.Player.IPCSocket)

	s.v.Set("sync.sync_interval", cfg.Sync.SyncInterval.String())
	s.v.Set("sync.server_sync_interval", cfg.Sync.ServerSyncInterval.String())
	s.v.Set("sync.poll_interval", cfg.Sync.PollInterval.String())
	s.v.Set("sync.check_interval", cfg.Sync.CheckInterval.String())
	s.v.Set("sync.probe_interval", cfg.Sync.ProbeInterval.String())
	s.v.Set("sync.request_timeout", cfg.Sync.RequestTimeout.String())
	s.v.Set("sync.finished_threshold", cfg.Sync.FinishedThreshold)
	s.v.Set("sync.upload_rate", cfg.Sync.UploadRate)

	s.v.Set("storage.data_dir", cfg.Storage.DataDir)
	s.v.Set("storage.downloads_dir", cfg.Storage.DownloadsDir)

	s.v.Set("hooks.watched_webhook", cfg.Hooks.WatchedWebhook)
	s.v.Set("api.listen", cfg.API.Listen)

	s.v.Set("logging.file", cfg.Logging.File)
	s.v.Set("logging.level", cfg.Logging.Level)
	s.v.Set("logging.format", cfg.Logging.Format)

	return s.write()
}

// SaveCredentials updates just the server login fields
func (s *ConfigStore) SaveCredentials(url, token, username string) error {
	s.v.Set("server.url", url)
	s.v.Set("server.token", token)
	s.v.Set("server.username", username)
	return s.write()
}

// ClearCredentials removes the token while preserving other settings
func (s *ConfigStore) ClearCredentials() error {
	s.v.Set("server.token", "")
	s.v.Set("server.username", "")
	return s.write()
}

func (s *ConfigStore) write() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.Path()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// IsConfigured returns true if the server URL and token are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Token != ""
}

// ExpandPath expands a leading ~ to the home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
