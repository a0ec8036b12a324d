package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragon-ai/ragon/internal/shard"
)

func TestMultiCmd_FansOutAcrossShards(t *testing.T) {
	// Given: a root with two built per-file shards
	dir := testCollection(t, map[string]string{
		"a.txt": "kubernetes pods restart when their liveness probe fails",
		"b.txt": "terraform plans show the resource diff before apply",
	})
	buildCmd := NewRootCmd()
	buildCmd.SetOut(new(bytes.Buffer))
	buildCmd.SetErr(new(bytes.Buffer))
	buildCmd.SetArgs([]string{"build", dir})
	require.NoError(t, buildCmd.Execute())

	// When: running one query against every shard
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"multi", dir, "-q", "kubernetes liveness probe"})

	err := cmd.Execute()

	// Then: both shards answer and the stats footer says so
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Query: kubernetes liveness probe")
	assert.Contains(t, output, "a.txt")
	assert.Contains(t, output, "2 shards: 2 succeeded, 0 failed")
}

func TestMultiCmd_JSONOutput(t *testing.T) {
	// Given: a root with two built per-file shards
	dir := testCollection(t, map[string]string{
		"a.txt": "alpha content about database migrations",
		"b.txt": "beta content about database migrations",
	})
	buildCmd := NewRootCmd()
	buildCmd.SetOut(new(bytes.Buffer))
	buildCmd.SetErr(new(bytes.Buffer))
	buildCmd.SetArgs([]string{"build", dir})
	require.NoError(t, buildCmd.Execute())

	// When: running with --json
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"multi", "--json", dir, "-q", "database migrations"})

	err := cmd.Execute()

	// Then: the output decodes into the fan-out response shape
	require.NoError(t, err)
	var resp shard.Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 2, resp.Stats.Shards)
	assert.Equal(t, 2, resp.Stats.Succeeded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "database migrations", resp.Results[0].Query)
	assert.NotEmpty(t, resp.Results[0].Passages)
}

func TestMultiCmd_RequiresQuery(t *testing.T) {
	// When: invoking without any --query
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"multi", "/some/root"})

	err := cmd.Execute()

	// Then: it should refuse
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--query")
}

func TestMultiCmd_RequiresRootOrExternal(t *testing.T) {
	// When: invoking with queries but nothing to query
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"multi", "-q", "anything"})

	err := cmd.Execute()

	// Then: it should refuse
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root directory or --external")
}
