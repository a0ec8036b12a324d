// Package store provides the persistence layer for a single index
// directory: the HNSW vector graph with its gob metadata sidecar, and
// the SQLite chunk store holding chunk text and provenance.
package store

import (
	"context"
	"fmt"
)

// Standard file names inside an index directory.
const (
	// VectorFile is the serialized HNSW graph.
	VectorFile = "index.hnsw"

	// VectorMetaFile is the gob sidecar with graph params and dimensions.
	VectorMetaFile = "index.hnsw.meta"

	// ChunksFile is the SQLite chunk database.
	ChunksFile = "chunks.db"
)

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	// Key is the chunk key assigned at build time; it resolves to a
	// ChunkRecord in the chunk store.
	Key uint64

	// Distance in the store's metric. Lower is more similar.
	Distance float32

	// Score is the normalized similarity in [0,1].
	Score float32
}

// VectorStoreConfig configures the HNSW graph.
type VectorStoreConfig struct {
	// Dimensions is the vector width. Fixed per index.
	Dimensions int

	// Metric is "cos" (cosine) or "l2" (euclidean). Default: "cos".
	Metric string

	// M is max connections per layer (default: 16).
	M int

	// EfSearch is query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns standard settings for the width.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore provides approximate nearest-neighbor search.
type VectorStore interface {
	// Add inserts vectors under the given keys. An existing key is
	// replaced.
	Add(ctx context.Context, keys []uint64, vectors [][]float32) error

	// Search finds the k nearest neighbors of query.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Count returns the number of stored vectors.
	Count() int

	// Dimensions returns the configured vector width.
	Dimensions() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// ChunkRecord is one retrievable chunk with its provenance.
type ChunkRecord struct {
	// Key links the record to its vector in the HNSW graph.
	Key uint64

	// Source is the originating file's base name.
	Source string

	// Page is the 1-based page number, 0 when unknown.
	Page int

	// Ordinal is the chunk's 0-based position within its source.
	Ordinal int

	// Content is the chunk text.
	Content string
}

// ErrDimensionMismatch indicates a vector of the wrong width.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
