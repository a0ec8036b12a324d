package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragon-ai/ragon/internal/service"
)

func TestSourcesCmd_ReportsCoverage(t *testing.T) {
	// Given: a built collection plus one source added afterwards
	dir := testCollection(t, map[string]string{
		"a.txt": "first document body",
		"b.txt": "second document body",
	})
	buildCmd := NewRootCmd()
	buildCmd.SetOut(new(bytes.Buffer))
	buildCmd.SetErr(new(bytes.Buffer))
	buildCmd.SetArgs([]string{"build", dir})
	require.NoError(t, buildCmd.Execute())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), []byte("added after the build"), 0o644))

	// When: listing sources
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sources", dir})

	err := cmd.Execute()

	// Then: built and missing sources are both reported
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "a.txt")
	assert.Contains(t, output, "late.txt")
	assert.Contains(t, output, "built")
	assert.Contains(t, output, "missing")
	assert.Contains(t, output, "2 of 3 sources indexed")
}

func TestSourcesCmd_ReportsOrphans(t *testing.T) {
	// Given: a built collection whose only source was edited afterwards
	dir := testCollection(t, map[string]string{
		"doc.txt": "original content before the edit",
	})
	buildCmd := NewRootCmd()
	buildCmd.SetOut(new(bytes.Buffer))
	buildCmd.SetErr(new(bytes.Buffer))
	buildCmd.SetArgs([]string{"build", dir})
	require.NoError(t, buildCmd.Execute())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"), []byte("rewritten content"), 0o644))

	// When: listing sources
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sources", dir})

	err := cmd.Execute()

	// Then: the old fingerprint shows up as an orphan
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "missing")
	assert.Contains(t, output, "1 orphaned index")
	assert.Contains(t, output, "ragon reclaim")
}

func TestSourcesCmd_JSONOutput(t *testing.T) {
	// Given: a built collection
	dir := testCollection(t, map[string]string{
		"doc.txt": "some document body",
	})
	buildCmd := NewRootCmd()
	buildCmd.SetOut(new(bytes.Buffer))
	buildCmd.SetErr(new(bytes.Buffer))
	buildCmd.SetArgs([]string{"build", dir})
	require.NoError(t, buildCmd.Execute())

	// When: listing sources with --json
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"sources", "--json", dir})

	err := cmd.Execute()

	// Then: the output decodes into the report shape
	require.NoError(t, err)
	var report service.SourcesReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, dir, report.Path)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "doc.txt", report.Sources[0].Name)
	assert.Equal(t, "built", report.Sources[0].Status)
	assert.Len(t, report.Sources[0].Fingerprint, 32)
	assert.Zero(t, report.Orphans)
}

func TestSourcesCmd_FailsOnMissingDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// When: listing a path that does not exist
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"sources", "/nonexistent/collection"})

	err := cmd.Execute()

	// Then: it should fail
	assert.Error(t, err)
}
