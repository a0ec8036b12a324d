package index

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragon-ai/ragon/internal/embed"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// buildTestIndex indexes one multi-chunk source and returns the index
// directory.
func buildTestIndex(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	text := strings.Repeat("The cache layer keeps every loaded index resident in memory. ", 60)
	src := writeSource(t, dir, "cache.txt", text)
	target := filepath.Join(dir, mustFingerprint(t, src))

	_, err := newTestBuilder(t).Build(context.Background(), BuildRequest{
		Sources:   []string{src},
		TargetDir: target,
	})
	require.NoError(t, err)
	return target
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ragonerr.ErrCodeManifestInvalid, ragonerr.GetCode(err))
}

func TestOpen_ChunkCountMismatch(t *testing.T) {
	dir := buildTestIndex(t)

	m, err := ReadManifest(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	m.Chunks++
	require.NoError(t, WriteManifest(filepath.Join(dir, ManifestFile), m))

	_, err = Open(dir)
	require.Error(t, err)
	assert.Equal(t, ragonerr.ErrCodeIndexCorrupt, ragonerr.GetCode(err))
}

func TestHandle_AcquireRelease(t *testing.T) {
	h, err := Open(buildTestIndex(t))
	require.NoError(t, err)

	require.True(t, h.Acquire(), "live handle grants references")
	h.Release()
	h.Release()

	assert.False(t, h.Acquire(), "fully released handle grants nothing")
}

func TestHandle_Search(t *testing.T) {
	h, err := Open(buildTestIndex(t))
	require.NoError(t, err)
	defer h.Release()
	ctx := context.Background()

	vec, err := embed.NewStaticEmbedder().Embed(ctx, "resident cache memory")
	require.NoError(t, err)

	results, err := h.Search(ctx, vec, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)

	for i, r := range results {
		assert.Equal(t, "cache.txt", r.Chunk.Source)
		assert.NotEmpty(t, r.Chunk.Content)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score, "scores descend")
		}
	}
}

func TestHandle_SearchMoreThanIndexed(t *testing.T) {
	h, err := Open(buildTestIndex(t))
	require.NoError(t, err)
	defer h.Release()
	ctx := context.Background()

	vec, err := embed.NewStaticEmbedder().Embed(ctx, "anything")
	require.NoError(t, err)

	results, err := h.Search(ctx, vec, 1000)
	require.NoError(t, err)
	assert.Len(t, results, h.DocCount())
}

func TestHandle_Accessors(t *testing.T) {
	dir := buildTestIndex(t)
	h, err := Open(dir)
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, dir, h.Dir())
	assert.Equal(t, h.Manifest().Chunks, h.DocCount())
	assert.Equal(t, embed.StaticDimensions, h.Dimensions())

	sources, err := h.Sources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cache.txt"}, sources)
}
