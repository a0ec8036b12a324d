package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/service"
)

func newSourcesCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sources <dir>",
		Short: "Show index coverage for a collection directory",
		Long: `Show index coverage for a collection directory.

Lists every source with its content fingerprint and whether an index
covers it (built), only a stale merged index exists (stale), or no
index exists at all (missing). Fingerprint directories whose content
no longer matches any source are reported as orphans; reclaim them
with 'ragon reclaim'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			cleanup := setupLogging(config.LoggingConfig{Level: logLevel}, false)
			defer cleanup()

			report, err := service.ListSources(cmd.Context(), dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			if len(report.Sources) == 0 {
				fmt.Fprintf(out, "No sources in %s\n", dir)
			}
			var built int
			for _, s := range report.Sources {
				fmt.Fprintf(out, "%-8s %s  %s  %s\n",
					s.Status, s.Fingerprint[:12], s.Name, humanize.Bytes(uint64(s.SizeBytes)))
				if s.Status == "built" {
					built++
				}
			}
			fmt.Fprintf(out, "\n%d of %d sources indexed\n", built, len(report.Sources))
			if report.Orphans > 0 {
				fmt.Fprintf(out, "%d orphaned index directories (run 'ragon reclaim %s')\n",
					report.Orphans, dir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
