package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// OllamaEmbedder produces embeddings via a local Ollama instance.
// Requests share a pooled transport; cancellation rides the request
// context, so a query deadline abandons in-flight inference.
type OllamaEmbedder struct {
	config    OllamaConfig
	client    *http.Client
	transport *http.Transport

	mu     sync.RWMutex
	closed bool
	dims   int
}

// NewOllamaEmbedder connects to Ollama, resolves an installed model,
// and detects the embedding dimension. Fails fast when the API is
// unreachable so the factory can fall back.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOllamaEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = OllamaConnectTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = OllamaPoolSize
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	e := &OllamaEmbedder{
		config:    cfg,
		transport: transport,
		// No client-level timeout; each request carries its own context
		// deadline so long batches are not cut short.
		client: &http.Client{Transport: transport},
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.checkHealth(ctx); err != nil {
			return nil, ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable,
				fmt.Sprintf("ollama unreachable at %s", cfg.Endpoint), err).
				WithSuggestion("start Ollama with 'ollama serve' or set embeddings.provider to static")
		}
		if err := e.resolveModel(ctx); err != nil {
			return nil, err
		}
	}

	if e.dims == 0 {
		if err := e.detectDimensions(ctx); err != nil {
			return nil, err
		}
	}

	slog.Debug("ollama embedder ready",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", e.config.Model),
		slog.Int("dimensions", e.dims))

	return e, nil
}

// checkHealth probes /api/tags within the connect timeout.
func (e *OllamaEmbedder) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned %d", resp.StatusCode)
	}
	return nil
}

// listModels returns the names of installed models.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned %d", resp.StatusCode)
	}

	var list ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.Name
	}
	return names, nil
}

// resolveModel picks an installed model: exact match first, then
// base-name match (ignoring the ":tag" suffix), then fallbacks.
func (e *OllamaEmbedder) resolveModel(ctx context.Context) error {
	installed, err := e.listModels(ctx)
	if err != nil {
		return ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable, "listing ollama models failed", err)
	}

	if name, ok := matchModel(e.config.Model, installed); ok {
		if name != e.config.Model {
			slog.Debug("resolved model tag", slog.String("requested", e.config.Model), slog.String("installed", name))
		}
		e.config.Model = name
		return nil
	}

	for _, fallback := range e.config.FallbackModels {
		if name, ok := matchModel(fallback, installed); ok {
			slog.Warn("configured embedding model not installed, using fallback",
				slog.String("requested", e.config.Model),
				slog.String("fallback", name))
			e.config.Model = name
			return nil
		}
	}

	return ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable,
		fmt.Sprintf("embedding model %q not installed (have: %s)",
			e.config.Model, strings.Join(installed, ", ")), nil).
		WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", e.config.Model))
}

// matchModel finds want in installed, exactly or by base name.
// "nomic-embed-text" matches "nomic-embed-text:latest".
func matchModel(want string, installed []string) (string, bool) {
	for _, name := range installed {
		if name == want {
			return name, true
		}
	}
	base := strings.SplitN(want, ":", 2)[0]
	for _, name := range installed {
		if strings.SplitN(name, ":", 2)[0] == base {
			return name, true
		}
	}
	return "", false
}

// detectDimensions embeds a probe string to learn the vector width.
func (e *OllamaEmbedder) detectDimensions(ctx context.Context) error {
	vecs, err := e.doEmbedWithRetry(ctx, "dimension probe", 1)
	if err != nil {
		return ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable, "dimension probe failed", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable, "dimension probe returned no vector", nil)
	}
	e.dims = len(vecs[0])
	return nil
}

// Embed returns the vector for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	vecs, err := e.doEmbedWithRetry(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in slices of BatchSize, preserving order.
// Blank texts become zero vectors without touching the API; Ollama
// rejects empty inputs.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			vecs[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		out, err := e.doEmbedWithRetry(ctx, batch, len(batch))
		if err != nil {
			return nil, err
		}
		for j, vec := range out {
			vecs[pendingIdx[start+j]] = vec
		}
	}
	return vecs, nil
}

// doEmbedWithRetry retries transient failures with exponential backoff
// starting at 100ms. Context errors are never retried.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, input any, count int) ([][]float32, error) {
	retryCfg := ragonerr.RetryConfig{
		MaxRetries:   e.config.MaxRetries - 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}

	var vecs [][]float32
	var lastErr error
	attempt := 0
	err := ragonerr.Retry(ctx, retryCfg, func() error {
		attempt++
		out, err := e.doEmbed(ctx, input, count)
		if err == nil {
			vecs = out
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		slog.Debug("embedding attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return ragonerr.New(ragonerr.ErrCodeEmbedderUnavailable, "ollama embed call failed", err)
	})
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, ragonerr.EmbeddingFailure(lastErr)
}

// doEmbed performs one /api/embed call under the per-request timeout.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, input any, count int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama /api/embed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != count {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), count)
	}
	return convertEmbeddings(out.Embeddings), nil
}

// convertEmbeddings narrows to float32 and normalizes each vector so
// cosine distances are comparable across models.
func convertEmbeddings(raw [][]float64) [][]float32 {
	vecs := make([][]float32, len(raw))
	for i, src := range raw {
		vec := make([]float32, len(src))
		for j, v := range src {
			vec[j] = float32(v)
		}
		normalizeVector(vec)
		vecs[i] = vec
	}
	return vecs
}

// Dimensions returns the detected or configured vector width.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the Ollama API currently responds.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}
	return e.checkHealth(ctx) == nil
}

// Close marks the embedder closed and drops pooled connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEmbedderClosed
	}
	return nil
}
