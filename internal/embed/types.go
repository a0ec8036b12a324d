package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrEmbedderClosed is returned by operations on a closed embedder.
var ErrEmbedderClosed = errors.New("embedder is closed")

// Embedder converts text into fixed-dimension vectors. Implementations
// must be safe for concurrent use; the process-wide singleton hands one
// instance to every index build and query worker.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width this embedder produces.
	Dimensions() int

	// ModelName identifies the model, as recorded in index manifests.
	ModelName() string

	// Available reports whether the backend can serve requests right now.
	Available(ctx context.Context) bool

	// Close releases resources. The embedder is unusable afterwards.
	Close() error
}

const (
	// DefaultBatchSize balances Ollama request size against throughput.
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding API request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries for transient embedding failures.
	DefaultMaxRetries = 3

	// StaticDimensions is the vector width of the hash-based embedder.
	StaticDimensions = 384
)

// normalizeVector scales vec to unit length in place. Zero vectors are
// left untouched so empty inputs stay representable.
func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
