package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragon-ai/ragon/internal/cache"
	"github.com/ragon-ai/ragon/internal/config"
	"github.com/ragon-ai/ragon/internal/index"
	"github.com/ragon-ai/ragon/internal/store"
	"github.com/ragon-ai/ragon/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOut bool
		server  string
	)

	cmd := &cobra.Command{
		Use:   "status <path>",
		Short: "Show index health for a file or collection directory",
		Long: `Show index health for a file or collection directory.

Reports the resolved layout, indexed sources and chunks, on-disk
storage sizes, the embedding model the index was built with, and
whether the index drifted from the current sources. A running server
is asked whether the index is cache resident; an unreachable server
reads as cold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			cleanup := setupLogging(config.LoggingConfig{Level: logLevel}, false)
			defer cleanup()

			info, err := collectStatus(path)
			if err != nil {
				return err
			}
			if resident, stale := probeResidency(cmd.Context(), server, path); resident {
				info.Resident = true
				info.Stale = info.Stale || stale
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
			if jsonOut {
				return renderer.RenderJSON(*info)
			}
			return renderer.Render(*info)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&server, "server", fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort),
		"Server to ask for cache residency")

	return cmd
}

// collectStatus reads the manifest and store files directly, without
// loading the vector graph.
func collectStatus(path string) (*ui.StatusInfo, error) {
	target, err := index.ResolveTarget(path)
	if err != nil {
		return nil, err
	}
	manifest, err := index.ReadManifest(filepath.Join(target.IndexDir, index.ManifestFile))
	if err != nil {
		return nil, err
	}

	info := &ui.StatusInfo{
		Path:           target.Path,
		Layout:         target.Layout.String(),
		Sources:        len(manifest.Fingerprints),
		Chunks:         manifest.Chunks,
		BuiltAt:        manifest.BuiltAt,
		EmbeddingModel: manifest.EmbeddingModel,
	}

	vectorPath := filepath.Join(target.IndexDir, store.VectorFile)
	info.VectorBytes = fileSize(vectorPath) + fileSize(filepath.Join(target.IndexDir, store.VectorMetaFile))
	info.ChunkBytes = fileSize(filepath.Join(target.IndexDir, store.ChunksFile))
	info.TotalBytes = info.VectorBytes + info.ChunkBytes

	if dims, err := store.ReadStoredDimensions(vectorPath); err == nil {
		info.Dimensions = dims
	}

	if added, removed, err := index.Drift(target, manifest); err == nil && added+removed > 0 {
		info.Stale = true
	}

	return info, nil
}

// probeResidency asks a running server whether path is cache resident
// and whether the resident copy is marked stale.
func probeResidency(ctx context.Context, server, path string) (resident, stale bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/cache/stats", nil)
	if err != nil {
		return false, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false
	}

	var stats cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return false, false
	}
	for _, e := range stats.Entries {
		if e.Path == path {
			return true, e.Stale
		}
	}
	return false, false
}

// fileSize returns the size of path, or zero when it cannot be read.
func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
