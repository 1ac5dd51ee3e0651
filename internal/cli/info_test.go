package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoTextOutput(t *testing.T) {
	out, _, err := execute(t, "info")
	require.NoError(t, err)

	assert.Contains(t, out, "Backend:       inmemory")
	assert.Contains(t, out, "Lock strategy: consistent-key")
	assert.Contains(t, out, "edgestore:")
	assert.Contains(t, out, "lock(consistent-key, records=edgestore_lock_)")
	assert.Contains(t, out, "lock(consistent-key, relaxed)")
}

func TestInfoJSONOutput(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "info")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result InfoResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "inmemory", result.Backend)
	assert.Equal(t, "consistent-key", result.LockStrategy)
	assert.True(t, result.Features.ConsistentKey)
	assert.False(t, result.Features.Locking)
	require.Len(t, result.Plans, 3)
	assert.Equal(t, "edgestore", result.Plans[0].Store)
	assert.Equal(t, "raw", result.Plans[0].Chain[0])
}

func TestInfoWithIndexProvider(t *testing.T) {
	out, _, err := execute(t, "info", "--index", "search=inmemory")
	require.NoError(t, err)
	assert.Contains(t, out, "Index providers: search")
}

func TestInfoUnknownBackend(t *testing.T) {
	out, _, err := execute(t, "info", "--backend", "no-such-backend")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "CONFIGURATION")
}

func TestInfoBufferSizeFlag(t *testing.T) {
	out, _, err := execute(t, "info", "--buffer-size", "64")
	require.NoError(t, err)
	assert.Contains(t, out, "buffer(size=64)")
}
