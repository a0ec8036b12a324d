package reclaim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragon-ai/ragon/internal/embed"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/fingerprint"
	"github.com/ragon-ai/ragon/internal/index"
)

// buildIndex indexes the named source into storeDir and returns the
// fingerprint directory it created.
func buildIndex(t *testing.T, srcDir, storeDir, name, content string) string {
	t.Helper()
	path := filepath.Join(srcDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	fp, err := fingerprint.Fingerprint(path)
	require.NoError(t, err)

	b, err := index.NewBuilder(index.BuilderDeps{Embedder: embed.NewStaticEmbedder()})
	require.NoError(t, err)
	_, err = b.Build(context.Background(), index.BuildRequest{
		Sources:   []string{path},
		TargetDir: filepath.Join(storeDir, fp),
	})
	require.NoError(t, err)
	return filepath.Join(storeDir, fp)
}

func TestReclaim_RemovesOrphans(t *testing.T) {
	root := t.TempDir()
	kept := buildIndex(t, root, root, "kept.txt", "this document stays")
	orphan := buildIndex(t, root, root, "gone.txt", "this document gets deleted")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	report, err := Reclaim(context.Background(), Options{SourceDir: root})
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrphansFound)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Kept)
	assert.Positive(t, report.BytesFreed)
	assert.Empty(t, report.Errors)

	assert.NoDirExists(t, orphan)
	assert.NoFileExists(t, orphan+".lock", "the build lock goes with the index")
	assert.DirExists(t, kept)
}

func TestReclaim_DryRunKeepsEverything(t *testing.T) {
	root := t.TempDir()
	orphan := buildIndex(t, root, root, "gone.txt", "doomed but not yet")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	report, err := Reclaim(context.Background(), Options{SourceDir: root, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrphansFound)
	assert.Zero(t, report.Removed)
	assert.Positive(t, report.BytesFreed, "dry run reports what a real pass would free")
	assert.DirExists(t, orphan)
}

func TestReclaim_ContentEditOrphansOldIndex(t *testing.T) {
	root := t.TempDir()
	old := buildIndex(t, root, root, "doc.txt", "first revision of the document")
	fresh := buildIndex(t, root, root, "doc.txt", "second revision of the document")
	require.NotEqual(t, old, fresh)

	report, err := Reclaim(context.Background(), Options{SourceDir: root})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Kept)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
}

func TestReclaim_RenamedSourceKeepsIndex(t *testing.T) {
	root := t.TempDir()
	dir := buildIndex(t, root, root, "old-name.txt", "content survives a rename")
	require.NoError(t, os.Rename(
		filepath.Join(root, "old-name.txt"),
		filepath.Join(root, "new-name.txt"),
	))

	report, err := Reclaim(context.Background(), Options{SourceDir: root})
	require.NoError(t, err)

	assert.Zero(t, report.OrphansFound)
	assert.Equal(t, 1, report.Kept)
	assert.DirExists(t, dir, "same content means the index is still live")
}

func TestReclaim_LeavesForeignDirsAlone(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("a source"), 0o644))
	notes := filepath.Join(root, "notes")
	require.NoError(t, os.MkdirAll(notes, 0o755))
	// Fingerprint-shaped but no manifest: half-built or not ours.
	halfBuilt := filepath.Join(root, "abcdefabcdefabcdefabcdefabcdef00")
	require.NoError(t, os.MkdirAll(halfBuilt, 0o755))

	report, err := Reclaim(context.Background(), Options{SourceDir: root})
	require.NoError(t, err)

	assert.Zero(t, report.OrphansFound)
	assert.Zero(t, report.Removed)
	assert.Zero(t, report.Kept)
	assert.DirExists(t, notes)
	assert.DirExists(t, halfBuilt)
}

func TestReclaim_SeparateStoreDir(t *testing.T) {
	srcDir := t.TempDir()
	storeDir := t.TempDir()
	kept := buildIndex(t, srcDir, storeDir, "kept.txt", "still referenced")
	orphan := buildIndex(t, srcDir, storeDir, "gone.txt", "no longer referenced")
	require.NoError(t, os.Remove(filepath.Join(srcDir, "gone.txt")))

	report, err := Reclaim(context.Background(), Options{SourceDir: srcDir, StoreDir: storeDir})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Kept)
	assert.NoDirExists(t, orphan)
	assert.DirExists(t, kept)
}

func TestReclaim_Validation(t *testing.T) {
	_, err := Reclaim(context.Background(), Options{})
	assert.Equal(t, ragonerr.ErrCodeInvalidRequest, ragonerr.GetCode(err))

	_, err = Reclaim(context.Background(), Options{SourceDir: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestReclaim_CancelledContext(t *testing.T) {
	root := t.TempDir()
	buildIndex(t, root, root, "doc.txt", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Reclaim(ctx, Options{SourceDir: root})
	assert.ErrorIs(t, err, context.Canceled)
}
