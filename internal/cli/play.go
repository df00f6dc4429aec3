package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/adapter"
	"github.com/mmcdole/shelfsync/internal/adapter/downloads"
	"github.com/mmcdole/shelfsync/internal/adapter/source/audiobookshelf"
	"github.com/mmcdole/shelfsync/internal/domain"
	"github.com/mmcdole/shelfsync/internal/service"
)

var (
	playEpisode   string
	playFromStart bool
	playOffline   bool
	playDuration  float64
	playByTitle   bool
)

var playCmd = &cobra.Command{
	Use:   "play <item-id | title>",
	Short: "Play an item and keep its progress in sync",
	Long: `Resolves where to resume, plays the downloaded copy if there is one or
streams from the server otherwise, and saves progress until the player exits.
With --title the argument is matched against downloaded titles.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVarP(&playEpisode, "episode", "e", "", "podcast episode id")
	playCmd.Flags().BoolVar(&playFromStart, "from-start", false, "ignore saved progress")
	playCmd.Flags().BoolVar(&playOffline, "offline", false, "only play downloaded files")
	playCmd.Flags().Float64Var(&playDuration, "duration", 0, "known duration in seconds")
	playCmd.Flags().BoolVarP(&playByTitle, "title", "t", false, "match the argument against downloaded titles")
	rootCmd.AddCommand(playCmd)
}

// playerLauncher adapts adapter.Launcher to the playback service
type playerLauncher struct {
	*adapter.Launcher
}

func (l playerLauncher) Launch(ctx context.Context, target string) (domain.PlayerProcess, error) {
	proc, err := l.Launcher.Launch(ctx, target)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func monitorConfig() service.MonitorConfig {
	mc := service.DefaultMonitorConfig()
	mc.LocalSaveInterval = cfg.Sync.SyncInterval
	mc.RemoteSyncInterval = cfg.Sync.ServerSyncInterval
	return mc
}

// matchDownload picks the best downloaded title for query.
func matchDownload(idx *downloads.Index, query string) (downloads.Match, error) {
	if idx == nil {
		return downloads.Match{}, fmt.Errorf("no download index to search")
	}
	if strings.TrimSpace(query) == "" {
		return downloads.Match{}, fmt.Errorf("a title is required")
	}
	matches := idx.Search(query)
	if len(matches) == 0 {
		return downloads.Match{}, fmt.Errorf("%w: no title matches %q", domain.ErrNotDownloaded, query)
	}
	return matches[0], nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var key domain.ProgressKey
	if playByTitle {
		match, err := matchDownload(a.downloads, args[0])
		if err != nil {
			return err
		}
		key = match.Key()
		fmt.Fprintf(cmd.OutOrStdout(), "Matched %q\n", match.Title)
	} else if key, err = parseKey(args[0], playEpisode); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !playOffline {
		if !a.connect(ctx) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Server unreachable, playing offline.")
		}
		// Connectivity changes and remote progress are tracked while playing
		stopBackground := a.startBackground(ctx)
		defer stopBackground()
	}

	launcher := adapter.NewLauncher(cfg.Player.Command, cfg.Player.Args, cfg.Player.IPCSocket, logger)
	playback := service.NewPlaybackService(
		a.sync,
		playerLauncher{launcher},
		a.streamClient(),
		a.offlineLocator(),
		watchedMarker(),
		monitorConfig(),
		logger,
	)

	pb, err := playback.Play(ctx, service.PlayRequest{
		Key:       key,
		Duration:  playDuration,
		FromStart: playFromStart,
		Offline:   playOffline,
	})
	if audiobookshelf.IsAuthError(err) {
		return fmt.Errorf("%w (run `shelfsync login` again)", err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Playing %s from %s (%s)\n", key, formatPosition(pb.Resume.Position), pb.Source)
	pb.Wait()

	if rec, ok := a.store.Get(key); ok {
		state := "saved"
		if rec.NeedsUpload {
			state = "saved locally, upload pending"
		}
		fmt.Fprintf(out, "Stopped at %s (%s)\n", formatPosition(rec.CurrentTime), state)
	}
	return nil
}
