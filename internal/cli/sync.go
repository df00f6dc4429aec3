package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/domain"
)

var syncEpisode string

var syncCmd = &cobra.Command{
	Use:   "sync [item-id]",
	Short: "Reconcile local progress with the server",
	Long: `Uploads pending local progress, then reconciles every known item (or just
the given one) in both directions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncEpisode, "episode", "e", "", "podcast episode id")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("not logged in; run 'shelfsync login' first")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !a.connect(ctx) {
		return fmt.Errorf("%w: %s did not answer", domain.ErrServerOffline, cfg.Server.URL)
	}

	var summary domain.SyncSummary
	if len(args) == 1 {
		key, err := parseKey(args[0], syncEpisode)
		if err != nil {
			return err
		}
		pulled, pushed := a.sync.SyncItemBidirectional(ctx, key)
		if pulled {
			summary.Downloaded++
		}
		if pushed {
			summary.Uploaded++
		}
	} else {
		summary = a.sync.SyncAll(ctx)
	}

	if jsonOut {
		return writeJSONOut(cmd.OutOrStdout(), map[string]int{
			"uploaded":   summary.Uploaded,
			"downloaded": summary.Downloaded,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d, downloaded %d\n", summary.Uploaded, summary.Downloaded)
	return nil
}
