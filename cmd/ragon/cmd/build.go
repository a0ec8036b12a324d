package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/embed"
	"github.com/ragon-ai/ragon/internal/extract"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/index"
	"github.com/ragon-ai/ragon/internal/ui"
)

func newBuildCmd() *cobra.Command {
	var (
		perFile bool
		merged  bool
		force   bool
		noTUI   bool
	)

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build indexes for a collection directory",
		Long: `Build indexes for a collection directory.

The default per-file layout builds one index per source under the
content fingerprint of that source, so edits resolve to fresh
directories and renames cost nothing. --merged builds one combined
index for the whole directory instead, tracked by a collection
manifest.

Already-built fingerprints are skipped unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if merged && perFile {
				return fmt.Errorf("--merged and --per-file are mutually exclusive")
			}

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			cfg, err := loadConfig(dir)
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg.Logging, false)
			defer cleanup()

			if merged {
				return runBuildMerged(ctx, cmd, dir, cfg, force, noTUI)
			}
			return runBuildPerFile(ctx, cmd, dir, cfg, force)
		},
	}

	cmd.Flags().BoolVar(&perFile, "per-file", false, "One index per source file (default)")
	cmd.Flags().BoolVar(&merged, "merged", false, "One combined index for the whole directory")
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even when an index already covers the content")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

func runBuildMerged(ctx context.Context, cmd *cobra.Command, dir string, cfg *config.Config, force, noTUI bool) error {
	embedder, err := embed.Acquire(ctx, cfg.Embeddings)
	if err != nil {
		return err
	}

	target, err := index.ResolveTarget(dir)
	if err != nil {
		return err
	}
	if target.Layout != index.LayoutMerged {
		return fmt.Errorf("%s is not a collection directory", dir)
	}
	if force {
		if err := os.RemoveAll(target.IndexDir); err != nil {
			return fmt.Errorf("failed to clear existing index: %w", err)
		}
		if err := os.Remove(target.CollectionManifestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear collection manifest: %w", err)
		}
	}

	deps := index.BuilderDeps{
		Embedder: embedder,
		Renderer: ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(noTUI),
			ui.WithTarget(dir))),
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		BatchSize:    cfg.Index.BatchSize,
	}
	h, info, err := index.LoadOrBuild(ctx, dir, index.LoadOptions{Deps: deps, RebuildStale: true})
	if err != nil {
		return err
	}
	defer h.Release()

	out := cmd.OutOrStdout()
	size := dirSize(target.IndexDir)
	m := h.Manifest()
	switch {
	case info.Built:
		fmt.Fprintf(out, "Merged index ready: %d sources, %s chunks, %s on disk\n",
			len(m.Fingerprints), humanize.Comma(int64(m.Chunks)), humanize.Bytes(uint64(size)))
	case info.Renamed:
		fmt.Fprintf(out, "Collection manifest updated for renamed sources, index unchanged\n")
	default:
		fmt.Fprintf(out, "Index up to date: %s chunks, %s on disk\n",
			humanize.Comma(int64(m.Chunks)), humanize.Bytes(uint64(size)))
	}
	for _, w := range info.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func runBuildPerFile(ctx context.Context, cmd *cobra.Command, dir string, cfg *config.Config, force bool) error {
	embedder, err := embed.Acquire(ctx, cfg.Embeddings)
	if err != nil {
		return err
	}

	sources, err := extract.ListSources(dir)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources found in %s", dir)
	}

	b, err := index.NewBuilder(index.BuilderDeps{
		Embedder:     embedder,
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		BatchSize:    cfg.Index.BatchSize,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	start := time.Now()
	var built, skipped, chunks int
	var bytes int64

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(src)

		fp, err := fingerprint.Fingerprint(src)
		if err != nil {
			return fmt.Errorf("failed to fingerprint %s: %w", name, err)
		}
		targetDir := filepath.Join(dir, fp)

		if !force {
			if _, err := os.Stat(filepath.Join(targetDir, index.ManifestFile)); err == nil {
				skipped++
				continue
			}
		}

		res, err := b.Build(ctx, index.BuildRequest{
			Sources:   []string{src},
			TargetDir: targetDir,
		})
		if err != nil {
			return fmt.Errorf("failed to build %s: %w", name, err)
		}
		built++
		chunks += res.Manifest.Chunks
		bytes += dirSize(targetDir)
		fmt.Fprintf(out, "%s -> %s (%d chunks, %s)\n",
			name, fp[:12], res.Manifest.Chunks, res.Duration.Round(time.Millisecond))
	}

	fmt.Fprintf(out, "\nBuilt %d of %d sources (%d already current) in %s: %s chunks, %s on disk\n",
		built, len(sources), skipped, time.Since(start).Round(time.Millisecond),
		humanize.Comma(int64(chunks)), humanize.Bytes(uint64(bytes)))
	return nil
}

// dirSize sums the file sizes under dir. Unreadable entries count as
// zero; the result feeds a summary line, not an invariant.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
