package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downloadsCmd = &cobra.Command{
	Use:   "downloads [filter]",
	Short: "List downloaded items",
	Long: `Lists the entries in the download index, whether their files are on disk, and their stored progress.
A filter fuzzy-matches titles and lists the best matches first.`,
	Args: cobra.MaximumNArgs(1),
	RunE:  runDownloads,
}

func init() {
	rootCmd.AddCommand(downloadsCmd)
}

type downloadRow struct {
	Key        string  `json:"key"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Files      int     `json:"files"`
	OnDisk     bool    `json:"on_disk"`
	Position   float64 `json:"position"`
	IsFinished bool    `json:"is_finished"`
}

func runDownloads(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if a.downloads == nil {
		fmt.Fprintln(out, "No download index.")
		return nil
	}

	filter := ""
	if len(args) == 1 {
		filter = args[0]
	}

	var rows []downloadRow
	for _, e := range a.downloads.Search(filter) {
		key := e.Key()
		row := downloadRow{
			Key:      key.String(),
			Title:    e.Title,
			Duration: e.Duration,
			Files:    len(e.Files),
			OnDisk:   a.downloads.IsDownloaded(key),
		}
		if row.Files == 0 {
			row.Files = 1
		}
		if rec, ok := a.store.Get(key); ok {
			row.Position = rec.CurrentTime
			row.IsFinished = rec.IsFinished
		}
		rows = append(rows, row)
	}

	if jsonOut {
		return writeJSONOut(out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No downloads.")
		return nil
	}
	for _, r := range rows {
		state := formatPosition(r.Position)
		if r.IsFinished {
			state = "finished"
		}
		missing := ""
		if !r.OnDisk {
			missing = " [missing files]"
		}
		fmt.Fprintf(out, "%-40s %-30s %s / %s%s\n", r.Key, r.Title, state, formatPosition(r.Duration), missing)
	}
	return nil
}
