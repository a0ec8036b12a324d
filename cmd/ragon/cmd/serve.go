package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		host    string
		port    int
		preload string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query service",
		Long: `Run the HTTP query service.

Endpoints:
  GET    /              service health and resident collections
  POST   /query         retrieve passages for a question
  GET    /cache/stats   resident index details
  POST   /cache/reload  force-rebuild an index and swap it in
  DELETE /cache/{path}  evict one resident index
  DELETE /cache         evict everything
  GET    /metrics       Prometheus metrics

With --preload the collection is indexed and loaded before the listener
starts, so the first query is served warm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if preload != "" {
				cfg.Server.PreloadPath = preload
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cleanup := setupLogging(cfg.Logging, true)
			defer cleanup()

			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen address (default 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default 1411)")
	cmd.Flags().StringVar(&preload, "preload", "", "Collection directory to index and cache before serving")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	svc, err := service.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	svc.Preload(ctx)

	return service.NewServer(svc, cfg).ListenAndServe(ctx)
}
