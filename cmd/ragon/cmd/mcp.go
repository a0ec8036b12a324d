package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/mcp"
	"github.com/ragon-ai/ragon/internal/service"
)

func newMCPCmd() *cobra.Command {
	var preload string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query tools over the Model Context Protocol",
		Long: `Serve the query tools over the Model Context Protocol.

Speaks JSON-RPC on stdio for MCP clients such as Claude Desktop.
Stdout carries protocol messages only; all diagnostics go to the log
file. With --preload the collection is indexed and cached before the
first tool call arrives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if preload != "" {
				abs, err := filepath.Abs(preload)
				if err != nil {
					return fmt.Errorf("failed to resolve preload path: %w", err)
				}
				preload = abs
			}

			cfg, err := loadConfig(preload)
			if err != nil {
				return err
			}
			if preload != "" {
				cfg.Server.PreloadPath = preload
			}

			// Stdout is reserved for JSON-RPC framing, so diagnostics
			// go to the log file only.
			cleanup := setupLogging(cfg.Logging, false)
			defer cleanup()

			svc, err := service.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			svc.Preload(ctx)

			srv, err := mcp.NewServer(svc)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&preload, "preload", "", "Collection directory to index and cache at startup")

	return cmd
}
