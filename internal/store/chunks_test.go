package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []ChunkRecord {
	return []ChunkRecord{
		{Key: 1, Source: "report.pdf", Page: 1, Ordinal: 0, Content: "first chunk"},
		{Key: 2, Source: "report.pdf", Page: 2, Ordinal: 1, Content: "second chunk"},
		{Key: 3, Source: "notes.txt", Page: 0, Ordinal: 0, Content: "third chunk"},
	}
}

func TestChunkStore_PutGet(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testRecords()))

	got, err := s.Get(ctx, []uint64{1, 3, 99})
	require.NoError(t, err)
	require.Len(t, got, 2, "missing keys are absent, not errors")

	assert.Equal(t, "first chunk", got[1].Content)
	assert.Equal(t, "report.pdf", got[1].Source)
	assert.Equal(t, 1, got[1].Page)
	assert.Equal(t, "notes.txt", got[3].Source)
	assert.Zero(t, got[3].Page)
}

func TestChunkStore_ReplaceKey(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []ChunkRecord{{Key: 7, Source: "a.txt", Content: "old"}}))
	require.NoError(t, s.Put(ctx, []ChunkRecord{{Key: 7, Source: "a.txt", Content: "new"}}))

	got, err := s.Get(ctx, []uint64{7})
	require.NoError(t, err)
	assert.Equal(t, "new", got[7].Content)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChunkStore_CountAndSources(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, s.Put(ctx, testRecords()))

	count, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "report.pdf"}, sources)
}

func TestChunkStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), ChunksFile)
	ctx := context.Background()

	s, err := OpenChunkStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testRecords()))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	reopened, err := OpenChunkStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := reopened.Get(ctx, []uint64{2})
	require.NoError(t, err)
	assert.Equal(t, "second chunk", got[2].Content)
}

func TestChunkStore_EmptyBatches(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	assert.NoError(t, s.Put(ctx, nil))

	got, err := s.Get(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChunkStore_Closed(t *testing.T) {
	s, err := OpenChunkStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.Error(t, s.Put(ctx, testRecords()))
	_, err = s.Get(ctx, []uint64{1})
	assert.Error(t, err)
	_, err = s.Count(ctx)
	assert.Error(t, err)
	assert.NoError(t, s.Close(), "double close is a no-op")
}

func TestValidateChunkStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("valid database passes", func(t *testing.T) {
		path := filepath.Join(dir, "valid.db")
		s, err := OpenChunkStore(path)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, testRecords()))
		require.NoError(t, s.Close())

		assert.NoError(t, ValidateChunkStore(path))
	})

	t.Run("missing file fails", func(t *testing.T) {
		assert.Error(t, ValidateChunkStore(filepath.Join(dir, "absent.db")))
	})

	t.Run("garbage file fails", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.db")
		require.NoError(t, os.WriteFile(path, []byte("this is not sqlite"), 0o644))

		assert.Error(t, ValidateChunkStore(path))
	})
}
