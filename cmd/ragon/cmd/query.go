package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/service"
)

func newQueryCmd() *cobra.Command {
	var (
		topK    int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "query <dir> <question>...",
		Short: "Query a collection directly, without a running server",
		Long: `Query a collection directly, without a running server.

Loads (or builds) the index for the directory, embeds the question,
and prints the most relevant passages. The question may be given as
multiple arguments; they are joined with spaces.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			question := strings.Join(args[1:], " ")

			cfg, err := loadConfig(dir)
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

			res, err := svc.Query(ctx, dir, question, topK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Fprintln(out, res.Answer)
			fmt.Fprintf(out, "\n%d passages, search %.3fs, load %.3fs\n",
				len(res.Sources), res.RetrievalTime, res.LoadTime)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to return (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}
