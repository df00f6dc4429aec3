// Package cli implements the shelfsync command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/adapter"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	cfgDir  string
	jsonOut bool
	verbose bool

	configStore *adapter.ConfigStore
	cfg         *adapter.Config
	logger      *slog.Logger
	logCloser   io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "shelfsync",
	Short: "Keep Audiobookshelf listening progress in sync across devices",
	Long: `Shelfsync plays audiobooks and podcasts from an Audiobookshelf server with
mpv, saves progress locally while listening and reconciles it with the
server, including offline listening from downloaded files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgDir, "config", "c", "", "config directory (default: ~/.config/shelfsync)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func initConfig() error {
	configStore = adapter.NewConfigStore(cfgDir)
	var err error
	cfg, err = configStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "DEBUG"
	}

	logger, logCloser, err = adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)
	logger.Debug("config loaded", "path", configStore.Path(), "version", Version)
	return nil
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shelfsync %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
