package embed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ragon-ai/ragon/internal/config"
)

// ProviderType selects an embedding backend.
type ProviderType string

const (
	// ProviderAuto probes Ollama and falls back to static embeddings.
	ProviderAuto ProviderType = "auto"

	// ProviderOllama requires a reachable Ollama instance.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings with no external model.
	ProviderStatic ProviderType = "static"
)

// String returns the provider name.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProvider converts a config string to a ProviderType. Unknown or
// empty values mean auto.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

// ValidProviders returns the accepted provider names.
func ValidProviders() []string {
	return []string{
		string(ProviderAuto),
		string(ProviderOllama),
		string(ProviderStatic),
	}
}

// NewEmbedder builds an embedder for the provider and wraps it in the
// LRU cache. Explicitly requesting ollama fails when it is unreachable;
// auto logs a warning and degrades to static instead, so offline hosts
// still serve queries.
func NewEmbedder(ctx context.Context, provider ProviderType, cfg config.EmbeddingsConfig) (Embedder, error) {
	inner, err := newInner(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newInner(ctx context.Context, provider ProviderType, cfg config.EmbeddingsConfig) (Embedder, error) {
	ollamaCfg := DefaultOllamaConfig()
	if cfg.Endpoint != "" {
		ollamaCfg.Endpoint = cfg.Endpoint
	}
	if cfg.Model != "" {
		ollamaCfg.Model = cfg.Model
	}

	switch provider {
	case ProviderStatic:
		return NewStaticEmbedder(), nil

	case ProviderOllama:
		return NewOllamaEmbedder(ctx, ollamaCfg)

	default: // ProviderAuto
		embedder, err := NewOllamaEmbedder(ctx, ollamaCfg)
		if err != nil {
			slog.Warn("ollama unavailable, falling back to static embeddings",
				slog.String("endpoint", ollamaCfg.Endpoint),
				slog.String("error", err.Error()))
			return NewStaticEmbedder(), nil
		}
		return embedder, nil
	}
}
