package tool

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShellTool(t *testing.T, allowlist ...string) *ShellTool {
	t.Helper()
	if len(allowlist) == 0 {
		allowlist = []string{"echo", "sh", "sleep", "false"}
	}
	return NewShellTool(t.TempDir(), allowlist, 5*time.Second, testLogger())
}

func shellExec(t *testing.T, tool *ShellTool, params string) (string, bool, map[string]string) {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	return res.Content, res.IsError, res.Metadata
}

func TestShellRunsAllowlistedCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tool := newShellTool(t)

	content, isErr, meta := shellExec(t, tool, `{"command":"echo hello"}`)
	require.False(t, isErr, content)
	assert.Equal(t, "hello", content)
	assert.Equal(t, "0", meta["exit_code"])
}

func TestShellRejectsDisallowedCommand(t *testing.T) {
	tool := newShellTool(t, "echo")

	content, isErr, _ := shellExec(t, tool, `{"command":"rm -rf /"}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "rm")
}

func TestShellEmptyCommand(t *testing.T) {
	tool := newShellTool(t)

	content, isErr, _ := shellExec(t, tool, `{"command":"   "}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "empty")
}

func TestShellNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tool := newShellTool(t)

	content, isErr, meta := shellExec(t, tool, `{"command":"sh -c 'echo oops >&2; exit 3'"}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "stderr:")
	assert.Contains(t, content, "oops")
	assert.Equal(t, "3", meta["exit_code"])
}

func TestShellTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	tool := newShellTool(t)

	start := time.Now()
	content, isErr, _ := shellExec(t, tool, `{"command":"sleep 10","timeout_seconds":1}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "timed out")
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestShellAlwaysConfirms(t *testing.T) {
	tool := newShellTool(t)
	assert.True(t, tool.ShouldConfirm(json.RawMessage(`{"command":"echo hi"}`)))
}
