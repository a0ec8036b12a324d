package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/service"
	"github.com/ragon-ai/ragon/internal/shard"
)

func newMultiCmd() *cobra.Command {
	var (
		queries   []string
		hashes    []string
		externals []string
		workers   int
		kPerShard int
		timeout   time.Duration
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "multi [root]",
		Short: "Query multiple per-file indexes in parallel",
		Long: `Query multiple per-file indexes in parallel.

Each selected shard answers every query independently; the results
are merged per query, with duplicate passages collapsed and their
source attributions combined. Shards come from the root directory's
fingerprints (--hash, or all built shards when none are given) and
from --external index directories outside the root.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(queries) == 0 {
				return fmt.Errorf("at least one --query is required")
			}

			var root string
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return fmt.Errorf("failed to resolve path: %w", err)
				}
				root = abs
			}
			if root == "" && len(externals) == 0 {
				return fmt.Errorf("a root directory or --external index is required")
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg.Logging, false)
			defer cleanup()

			svc, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			resp, err := svc.MultiQuery(ctx, shard.Request{
				Root:            root,
				Queries:         queries,
				SourceHashes:    hashes,
				ExternalSources: externals,
				KPerShard:       kPerShard,
				MaxWorkers:      workers,
				ShardTimeout:    timeout,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			for i, qr := range resp.Results {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Query: %s\n", qr.Query)
				if len(qr.Passages) == 0 {
					fmt.Fprintln(out, "  no passages found")
					continue
				}
				for rank, p := range qr.Passages {
					head := fmt.Sprintf("  %d. [%.3f] %s", rank+1, p.Score, strings.Join(p.Sources, ", "))
					if p.Page > 0 {
						head += fmt.Sprintf(" p.%d", p.Page)
					}
					fmt.Fprintln(out, head)
					fmt.Fprintf(out, "     %s\n", firstLine(p.Content))
				}
				if qr.DuplicatesRemoved > 0 {
					fmt.Fprintf(out, "  (%d duplicates merged)\n", qr.DuplicatesRemoved)
				}
			}

			st := resp.Stats
			fmt.Fprintf(out, "\n%d shards: %d succeeded, %d failed, %.2fs\n",
				st.Shards, st.Succeeded, st.Failed, st.ElapsedSeconds)
			for _, f := range st.Failures {
				fmt.Fprintf(out, "  %s %s: %s\n", f.Kind, f.Fingerprint, f.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "Query to run (repeatable)")
	cmd.Flags().StringArrayVar(&hashes, "hash", nil, "Shard fingerprint under root (repeatable, default all built)")
	cmd.Flags().StringArrayVar(&externals, "external", nil, "Index directory outside root (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent shard loads (default from config)")
	cmd.Flags().IntVarP(&kPerShard, "top-k", "k", 0, "Passages per shard per query (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-shard time budget (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

// firstLine trims a passage down to its first line for the compact
// text listing. JSON output carries the full content.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}
