package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importStatePath string

var importCmd = &cobra.Command{
	Use:   "import-legacy <dir-or-progress_unified.json>",
	Short: "Import progress from the JSON tables of an earlier installation",
	Long: `Merges a legacy progress_unified.json (and sync_state.json, if present) into the
progress store. Stored records are only replaced by newer ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importStatePath, "state", "", "sync_state.json path (default: next to the progress table)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	progressPath, statePath := resolveLegacyPaths(args[0], importStatePath)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.ImportLegacyJSON(progressPath, statePath)
	if err != nil {
		return err
	}
	logger.Info("imported legacy progress", "path", progressPath, "records", n)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records from %s\n", n, progressPath)
	return nil
}
