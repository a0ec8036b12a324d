package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragon-ai/ragon/internal/embed"
	"github.com/ragon-ai/ragon/internal/index"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// countingLoad delegates to index.LoadOrBuild and records invocations.
type countingLoad struct {
	calls       atomic.Int64
	lastRebuild atomic.Bool
	delay       time.Duration
}

func (cl *countingLoad) fn() LoadFunc {
	deps := index.BuilderDeps{Embedder: embed.NewStaticEmbedder()}
	return func(ctx context.Context, path string, rebuildStale bool) (*index.Handle, *index.LoadInfo, error) {
		cl.calls.Add(1)
		cl.lastRebuild.Store(rebuildStale)
		if cl.delay > 0 {
			time.Sleep(cl.delay)
		}
		return index.LoadOrBuild(ctx, path, index.LoadOptions{Deps: deps, RebuildStale: rebuildStale})
	}
}

func searchable(t *testing.T, l *Lease, query string) int {
	t.Helper()
	vec, err := embed.NewStaticEmbedder().Embed(context.Background(), query)
	require.NoError(t, err)
	results, err := l.Handle.Search(context.Background(), vec, 4)
	require.NoError(t, err)
	return len(results)
}

func TestCache_ColdLoadThenHit(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "doc.txt", "the resident cache keeps indexes warm")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	l1, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	assert.False(t, l1.FromCache)
	assert.Positive(t, l1.LoadTime)
	assert.Positive(t, searchable(t, l1, "resident cache"))
	l1.Release()

	l2, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	assert.True(t, l2.FromCache)
	assert.Zero(t, l2.LoadTime)
	l2.Release()

	assert.Equal(t, int64(1), cl.calls.Load(), "the second request must not reload")
	assert.Equal(t, 1, c.Len())
}

func TestCache_SingleflightSharesOneLoad(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "doc.txt", "many callers, one load")
	cl := &countingLoad{delay: 50 * time.Millisecond}
	c := New(cl.fn())
	defer c.Close()

	const callers = 8
	leases := make([]*Lease, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i], errs[i] = c.GetOrLoad(context.Background(), dir)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, leases[i])
		leases[i].Release()
	}
	assert.Equal(t, int64(1), cl.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_DistinctPathsLoadIndependently(t *testing.T) {
	a := t.TempDir()
	writeSource(t, a, "a.txt", "first collection")
	b := t.TempDir()
	writeSource(t, b, "b.txt", "second collection")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	la, err := c.GetOrLoad(ctx, a)
	require.NoError(t, err)
	la.Release()
	lb, err := c.GetOrLoad(ctx, b)
	require.NoError(t, err)
	lb.Release()

	assert.Equal(t, int64(2), cl.calls.Load())
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{a, b}, c.Paths())
}

func TestCache_EvictKeepsRunningQueriesAlive(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "doc.txt", "eviction must not break in-flight queries")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	l1, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)

	assert.True(t, c.Evict(dir))
	assert.Zero(t, c.Len())
	assert.False(t, c.Evict(dir), "second evict finds nothing")

	// The outstanding lease still works; the handle closes on Release.
	assert.Positive(t, searchable(t, l1, "in-flight queries"))
	l1.Release()

	l2, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	defer l2.Release()
	assert.False(t, l2.FromCache)
	assert.Equal(t, int64(2), cl.calls.Load())
}

func TestCache_EvictAll(t *testing.T) {
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	for _, name := range []string{"x", "y", "z"} {
		dir := t.TempDir()
		writeSource(t, dir, name+".txt", "content for "+name)
		l, err := c.GetOrLoad(ctx, dir)
		require.NoError(t, err)
		l.Release()
	}

	assert.Equal(t, 3, c.EvictAll())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.EvictAll())
}

func TestCache_ReloadSwapsUnderReaders(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "one.txt", "the original document body")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	l1, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	oldDocs := l1.Handle.DocCount()

	writeSource(t, dir, "two.txt", "a second document that appeared later")

	l2, err := c.Reload(ctx, dir)
	require.NoError(t, err)
	defer l2.Release()

	assert.True(t, cl.lastRebuild.Load(), "reload asks the loader to rebuild stale indexes")
	assert.False(t, l2.FromCache)
	assert.Greater(t, l2.Handle.DocCount(), oldDocs)

	// The pre-reload reader keeps working on the retired handle.
	assert.Positive(t, searchable(t, l1, "original document"))
	l1.Release()

	l3, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	defer l3.Release()
	assert.True(t, l3.FromCache)
	assert.Equal(t, l2.Handle.DocCount(), l3.Handle.DocCount())
}

func TestCache_DirtyEntryResolvesToStale(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "one.txt", "the only document at build time")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	l1, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	assert.False(t, l1.Stale)
	l1.Release()

	writeSource(t, dir, "two.txt", "a document the index has never seen")

	// Without a mark the cache trusts its entry.
	l2, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	assert.False(t, l2.Stale)
	l2.Release()

	c.MarkDirty(dir)

	l3, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	assert.True(t, l3.Stale, "a marked entry re-checks its sources")
	assert.True(t, l3.FromCache, "stale entries keep serving")
	l3.Release()

	stats := c.Stats()
	require.Len(t, stats.Entries, 1)
	assert.True(t, stats.Entries[0].Stale)

	// Reload clears the verdict.
	l4, err := c.Reload(ctx, dir)
	require.NoError(t, err)
	l4.Release()
	assert.False(t, c.Stats().Entries[0].Stale)
}

func TestCache_MarkDirtyOnMissIsNoop(t *testing.T) {
	c := New((&countingLoad{}).fn())
	defer c.Close()
	c.MarkDirty(t.TempDir())
	assert.Zero(t, c.Len())
}

func TestCache_Stats(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "doc.txt", "stats should describe this index")
	cl := &countingLoad{}
	c := New(cl.fn())
	defer c.Close()
	ctx := context.Background()

	l, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	l.Release()
	l, err = c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	l.Release()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Count)
	require.Len(t, stats.Entries, 1)
	e := stats.Entries[0]
	assert.Equal(t, dir, e.Path)
	assert.Equal(t, "merged", e.Layout)
	assert.Positive(t, e.Chunks)
	assert.Equal(t, 1, e.Sources)
	assert.Equal(t, "static-hash-384", e.Model)
	assert.Equal(t, int64(2), e.Hits)
	assert.False(t, e.LoadedAt.IsZero())
}

func TestCache_KeyValidation(t *testing.T) {
	c := New((&countingLoad{}).fn())
	defer c.Close()

	_, err := c.GetOrLoad(context.Background(), "")
	assert.Error(t, err)
	_, err = c.GetOrLoad(context.Background(), "   ")
	assert.Error(t, err)
}

func TestCache_Close(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "doc.txt", "closing releases everything")
	cl := &countingLoad{}
	c := New(cl.fn())
	ctx := context.Background()

	l, err := c.GetOrLoad(ctx, dir)
	require.NoError(t, err)
	l.Release()

	require.NoError(t, c.Close())
	assert.Zero(t, c.Len())

	_, err = c.GetOrLoad(ctx, dir)
	assert.Error(t, err)
	assert.NoError(t, c.Close(), "double close is a no-op")
}
