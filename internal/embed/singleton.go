package embed

import (
	"context"
	"sync"

	"github.com/ragon-ai/ragon/internal/config"
)

// The embedder is process-global: model startup costs seconds, and
// every loaded index shares the same instance for query embedding.
// Initialization happens on first Acquire; concurrent first callers
// block until the single initialization finishes.
var (
	singletonMu   sync.Mutex
	singleton     Embedder
	singletonErr  error
	singletonDone bool
)

// Acquire returns the process-wide embedder, building it on first
// call. The result is shared; callers must not Close it. A failed
// initialization is sticky for the process lifetime, matching the
// no-teardown model of the service.
func Acquire(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if !singletonDone {
		singleton, singletonErr = NewEmbedder(ctx, ParseProvider(cfg.Provider), cfg)
		singletonDone = true
	}
	return singleton, singletonErr
}

// ResetForTest discards the singleton so tests can force a fresh
// initialization. Never call this in production code.
func ResetForTest() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton != nil {
		_ = singleton.Close()
	}
	singleton = nil
	singletonErr = nil
	singletonDone = false
}
