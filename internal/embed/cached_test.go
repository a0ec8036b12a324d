package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps the static embedder and counts inner calls
// so cache behavior is observable.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls atomic.Int64
	batchTexts atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts.Add(int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "what is the refund policy")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "what is the refund policy")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load(), "second call must be served from cache")

	hits, misses := cached.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	// Given one text already cached
	warm, err := cached.Embed(ctx, "cached question")
	require.NoError(t, err)

	// When a batch mixes cached and new texts
	vecs, err := cached.EmbedBatch(ctx, []string{"new alpha", "cached question", "new beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Then only the misses reach the inner embedder
	assert.Equal(t, int64(2), inner.batchTexts.Load())
	assert.Equal(t, warm, vecs[1])

	// And order is preserved
	alpha, err := inner.StaticEmbedder.Embed(ctx, "new alpha")
	require.NoError(t, err)
	assert.Equal(t, alpha, vecs[0])
}

func TestCachedEmbedder_BatchAllHits(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)
	before := inner.batchTexts.Load()

	_, err = cached.EmbedBatch(ctx, []string{"two", "one"})
	require.NoError(t, err)

	assert.Equal(t, before, inner.batchTexts.Load(), "fully cached batch must not call inner")
}

func TestCachedEmbedder_Eviction(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "third") // evicts "first"
	require.NoError(t, err)

	_, err = cached.Embed(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, int64(4), inner.embedCalls.Load(), "evicted entry must be re-embedded")
}

func TestCachedEmbedder_Delegates(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 4)

	assert.Equal(t, StaticDimensions, cached.Dimensions())
	assert.Equal(t, "static-hash-384", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}

func TestCachedEmbedder_SizeFallback(t *testing.T) {
	// Non-positive sizes fall back to the default rather than failing.
	cached := NewCachedEmbedder(newCountingEmbedder(), 0)
	_, err := cached.Embed(context.Background(), "text")
	assert.NoError(t, err)
}

func TestCachedEmbedder_Close(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 4)

	require.NoError(t, cached.Close())

	_, err := cached.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbedderClosed)
}
