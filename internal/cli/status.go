package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mmcdole/shelfsync/internal/domain"
)

var (
	progressEpisode string
	resumeEpisode   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long:  `Shows connectivity, stored records, pending uploads and the last sync times.`,
	RunE:  runStatus,
}

var progressCmd = &cobra.Command{
	Use:   "progress [item-id]",
	Short: "Show stored progress",
	Long:  `Shows the stored record for one item, or every stored record.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProgress,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <item-id>",
	Short: "Reconcile one item and print where playback would resume",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	progressCmd.Flags().StringVarP(&progressEpisode, "episode", "e", "", "podcast episode id")
	resumeCmd.Flags().StringVarP(&resumeEpisode, "episode", "e", "", "podcast episode id")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(resumeCmd)
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatPosition renders seconds as h:mm:ss
func formatPosition(sec float64) string {
	d := time.Duration(sec) * time.Second
	return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RequestTimeout)
	defer cancel()
	a.connect(ctx)

	st := a.sync.Status()
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONOut(out, st)
	}

	server := cfg.Server.URL
	if server == "" {
		server = "(not logged in)"
	}
	connectivity := "offline"
	if st.Online {
		connectivity = "online"
	}
	fmt.Fprintf(out, "Server:        %s (%s)\n", server, connectivity)
	fmt.Fprintf(out, "Records:       %d\n", st.Records)
	fmt.Fprintf(out, "Pending:       %d\n", st.Pending)
	fmt.Fprintf(out, "Known items:   %d\n", st.KnownItems)
	fmt.Fprintf(out, "Last sync:     %s\n", formatTime(st.LastFullSync))
	fmt.Fprintf(out, "Last poll:     %s\n", formatTime(st.LastServerPoll))
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var records []domain.ProgressRecord
	if len(args) == 1 {
		key, err := parseKey(args[0], progressEpisode)
		if err != nil {
			return err
		}
		rec, ok := a.store.Get(key)
		if !ok {
			return fmt.Errorf("no progress stored for %s", key)
		}
		records = append(records, *rec)
	} else {
		records = a.store.All()
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONOut(out, records)
	}
	for _, rec := range records {
		flags := ""
		if rec.IsFinished {
			flags += " finished"
		}
		if rec.NeedsUpload {
			flags += " pending"
		}
		fmt.Fprintf(out, "%-40s %s / %s (%3.0f%%)%s\n",
			rec.Key().String(),
			formatPosition(rec.CurrentTime),
			formatPosition(rec.Duration),
			rec.Progress*100,
			flags,
		)
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[0], resumeEpisode)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	a.connect(ctx)
	rp := a.sync.GetBestResumePosition(ctx, key, cfg.Sync.FinishedThreshold)

	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSONOut(out, map[string]any{
			"key":         key.String(),
			"position":    rp.Position,
			"duration":    rp.Duration,
			"is_finished": rp.IsFinished,
			"online":      a.sync.IsOnline(),
		})
	}
	if rp.IsFinished {
		fmt.Fprintf(out, "%s is finished; playback restarts from the beginning\n", key)
		return nil
	}
	fmt.Fprintf(out, "%s resumes at %s of %s\n", key, formatPosition(rp.Position), formatPosition(rp.Duration))
	return nil
}
