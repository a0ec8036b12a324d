package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo describes a built index and its cache residency.
type StatusInfo struct {
	// Index identity
	Path    string `json:"path"`
	Layout  string `json:"layout"` // "per-file" or "merged"
	Sources int    `json:"sources"`
	Chunks  int    `json:"chunks"`

	BuiltAt time.Time `json:"built_at"`

	// Embedding backend the index was built with
	EmbeddingModel string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions,omitempty"`

	// Storage sizes (in bytes)
	VectorBytes int64 `json:"vector_bytes"`
	ChunkBytes  int64 `json:"chunk_bytes"`
	TotalBytes  int64 `json:"total_bytes"`

	// Cache state
	Resident bool `json:"resident"`
	Stale    bool `json:"stale"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.Path))

	// Index stats
	_, _ = fmt.Fprintf(r.out, "  Layout:  %s\n", info.Layout)
	_, _ = fmt.Fprintf(r.out, "  Sources: %d\n", info.Sources)
	_, _ = fmt.Fprintf(r.out, "  Chunks:  %d\n", info.Chunks)
	if !info.BuiltAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Built:   %s\n", humanize.Time(info.BuiltAt))
	}
	_, _ = fmt.Fprintln(r.out)

	// Storage sizes
	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Vectors: %s\n", humanize.IBytes(uint64(info.VectorBytes)))
	_, _ = fmt.Fprintf(r.out, "    Chunks:  %s\n", humanize.IBytes(uint64(info.ChunkBytes)))
	_, _ = fmt.Fprintf(r.out, "    Total:   %s\n", humanize.IBytes(uint64(info.TotalBytes)))
	_, _ = fmt.Fprintln(r.out)

	// Embedding backend
	if info.EmbeddingModel != "" {
		_, _ = fmt.Fprintf(r.out, "  Model: %s", info.EmbeddingModel)
		if info.Dimensions > 0 {
			_, _ = fmt.Fprintf(r.out, " (%d dims)", info.Dimensions)
		}
		_, _ = fmt.Fprintln(r.out)
	}

	// Cache residency
	_, _ = fmt.Fprintf(r.out, "  Cache: %s\n", r.renderResidency(info))

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderResidency formats the cache residency state with color.
func (r *StatusRenderer) renderResidency(info StatusInfo) string {
	switch {
	case info.Resident && info.Stale:
		return r.styles.Warning.Render("resident (stale, reload recommended)")
	case info.Resident:
		return r.styles.Success.Render("resident")
	case info.Stale:
		return r.styles.Warning.Render("cold (sources drifted, rebuild recommended)")
	default:
		return r.styles.Dim.Render("cold")
	}
}
