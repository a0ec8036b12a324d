package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/store"
)

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Score    float32
	Distance float32
	Chunk    store.ChunkRecord
}

// Handle is a refcounted open index. The cache shares one handle per
// index directory; searches acquire it so an eviction or reload never
// closes the stores under a running query. The final Release closes
// both stores.
type Handle struct {
	dir      string
	manifest *Manifest
	vectors  *store.HNSWStore
	chunks   *store.ChunkStore
	refs     atomic.Int64
}

// Open loads the index at dir and cross-checks the stores against the
// manifest. The returned handle carries one reference owned by the
// caller.
func Open(dir string) (*Handle, error) {
	manifest, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	if err := store.ValidateChunkStore(filepath.Join(dir, store.ChunksFile)); err != nil {
		return nil, ragonerr.IndexCorrupt(dir, err)
	}

	vectors, err := store.LoadHNSWStore(filepath.Join(dir, store.VectorFile))
	if err != nil {
		return nil, ragonerr.IndexCorrupt(dir, err)
	}
	if vectors.Count() != manifest.Chunks {
		vectors.Close()
		return nil, ragonerr.IndexCorrupt(dir,
			fmt.Errorf("graph holds %d vectors, manifest says %d", vectors.Count(), manifest.Chunks))
	}

	chunks, err := store.OpenChunkStore(filepath.Join(dir, store.ChunksFile))
	if err != nil {
		vectors.Close()
		return nil, ragonerr.IndexCorrupt(dir, err)
	}

	h := &Handle{dir: dir, manifest: manifest, vectors: vectors, chunks: chunks}
	h.refs.Store(1)
	return h, nil
}

// Acquire takes an additional reference. It fails once the handle has
// been fully released, meaning the caller raced an eviction and must
// reload.
func (h *Handle) Acquire() bool {
	for {
		cur := h.refs.Load()
		if cur <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release drops one reference, closing the stores when the last one
// goes.
func (h *Handle) Release() {
	if h.refs.Add(-1) > 0 {
		return
	}
	if err := h.vectors.Close(); err != nil {
		slog.Debug("vector store close failed", "dir", h.dir, "error", err)
	}
	if err := h.chunks.Close(); err != nil {
		slog.Debug("chunk store close failed", "dir", h.dir, "error", err)
	}
}

// Search finds the k nearest chunks to the query vector.
func (h *Handle) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	hits, err := h.vectors.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	keys := make([]uint64, len(hits))
	for i, hit := range hits {
		keys[i] = hit.Key
	}
	records, err := h.chunks.Get(ctx, keys)
	if err != nil {
		return nil, ragonerr.IndexCorrupt(h.dir, err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		rec, ok := records[hit.Key]
		if !ok {
			// A graph key without a chunk row. Skip it rather than
			// fail the whole query.
			slog.Debug("chunk row missing for graph key", "dir", h.dir, "key", hit.Key)
			continue
		}
		results = append(results, Result{Score: hit.Score, Distance: hit.Distance, Chunk: rec})
	}
	return results, nil
}

// Dir returns the index directory this handle serves.
func (h *Handle) Dir() string { return h.dir }

// Manifest returns the manifest the index was opened with.
func (h *Handle) Manifest() *Manifest { return h.manifest }

// DocCount returns the number of chunks in the index.
func (h *Handle) DocCount() int { return h.manifest.Chunks }

// Dimensions returns the vector dimensionality of the index.
func (h *Handle) Dimensions() int { return h.vectors.Dimensions() }

// Sources lists the distinct source names present in the chunk store.
func (h *Handle) Sources(ctx context.Context) ([]string, error) {
	return h.chunks.Sources(ctx)
}
