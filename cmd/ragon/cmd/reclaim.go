package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/reclaim"
)

func newReclaimCmd() *cobra.Command {
	var (
		dryRun   bool
		storeDir string
	)

	cmd := &cobra.Command{
		Use:   "reclaim <dir>",
		Short: "Remove orphaned index directories",
		Long: `Remove orphaned index directories.

A per-file index directory is orphaned when no source file in the
collection has its fingerprint anymore, after an edit or a delete.
Orphans can never be served again, so reclaiming them only frees
disk. Indexes mid-build are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			cleanup := setupLogging(config.LoggingConfig{Level: logLevel}, false)
			defer cleanup()

			report, err := reclaim.Reclaim(cmd.Context(), reclaim.Options{
				SourceDir: dir,
				StoreDir:  storeDir,
				DryRun:    dryRun,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.OrphansFound == 0 {
				fmt.Fprintf(out, "No orphans: %d live indexes\n", report.Kept)
				return nil
			}
			if dryRun {
				fmt.Fprintf(out, "Would remove %d orphaned indexes, freeing %s (%d live kept)\n",
					report.OrphansFound, humanize.Bytes(uint64(report.BytesFreed)), report.Kept)
			} else {
				fmt.Fprintf(out, "Removed %d of %d orphaned indexes, freed %s (%d live kept)\n",
					report.Removed, report.OrphansFound, humanize.Bytes(uint64(report.BytesFreed)), report.Kept)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(out, "warning: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report orphans without removing anything")
	cmd.Flags().StringVar(&storeDir, "store", "", "Index store directory (default: the collection directory)")

	return cmd
}
