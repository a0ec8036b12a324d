package embed

import "time"

const (
	// DefaultOllamaEndpoint is the default Ollama API address.
	DefaultOllamaEndpoint = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model. nomic-embed-text
	// is small, widely installed, and tuned for document retrieval.
	DefaultOllamaModel = "nomic-embed-text"

	// OllamaConnectTimeout bounds the initial health probe.
	OllamaConnectTimeout = 5 * time.Second

	// OllamaPoolSize for the HTTP connection pool.
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order when the configured model is
// not installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Endpoint is the Ollama API address (default: http://localhost:11434).
	Endpoint string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if Model is not installed.
	FallbackModels []string

	// Dimensions overrides auto-detection when non-zero.
	Dimensions int

	// BatchSize caps texts per /api/embed request.
	BatchSize int

	// Timeout bounds a single API request.
	Timeout time.Duration

	// ConnectTimeout bounds the initial health probe.
	ConnectTimeout time.Duration

	// MaxRetries for transient failures.
	MaxRetries int

	// PoolSize for the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck skips the startup availability probe (tests).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the standard settings.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Endpoint:       DefaultOllamaEndpoint,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		ConnectTimeout: OllamaConnectTimeout,
		MaxRetries:     DefaultMaxRetries,
		PoolSize:       OllamaPoolSize,
	}
}

// ollamaEmbedRequest is the /api/embed request body.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaModelListResponse is the /api/tags response body.
type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// ollamaModelInfo describes one installed model.
type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
