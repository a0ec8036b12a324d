package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPCmd_NoStdoutContamination(t *testing.T) {
	// Stdout must carry JSON-RPC frames only; any status line printed
	// through the command would corrupt the protocol stream.

	// Given: a collection to preload
	dir := testCollection(t, map[string]string{
		"doc.txt": "a passage served over the protocol",
	})

	// When: running mcp briefly (stdin has no client, so the server
	// either idles until the deadline or exits on EOF)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := NewRootCmd()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"mcp", "--preload", dir})

	_ = cmd.ExecuteContext(ctx)

	// Then: nothing was written through the command's stdout
	assert.Empty(t, outBuf.String(), "mcp must not write status output to stdout")
}

func TestMCPCmd_HasPreloadFlag(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// When: looking up the mcp subcommand
	mcpCmd, _, err := cmd.Find([]string{"mcp"})
	require.NoError(t, err)

	// Then: it should have --preload
	flag := mcpCmd.Flags().Lookup("preload")
	require.NotNil(t, flag, "MCP should have --preload flag")
	assert.Equal(t, "", flag.DefValue)
}
