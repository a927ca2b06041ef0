package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memExec(t *testing.T, tool *MemoryTool, params string) (string, bool) {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	return res.Content, res.IsError
}

func TestMemorySaveReadDelete(t *testing.T) {
	tool := NewMemoryTool(t.TempDir(), testLogger())

	content, isErr := memExec(t, tool, `{"action":"save","name":"findings","content":"port 8080 is taken"}`)
	require.False(t, isErr, content)

	content, isErr = memExec(t, tool, `{"action":"read","name":"findings"}`)
	require.False(t, isErr, content)
	assert.Equal(t, "port 8080 is taken", content)

	content, isErr = memExec(t, tool, `{"action":"delete","name":"findings"}`)
	require.False(t, isErr, content)

	content, isErr = memExec(t, tool, `{"action":"read","name":"findings"}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "not found")
}

func TestMemoryListSorted(t *testing.T) {
	tool := NewMemoryTool(t.TempDir(), testLogger())

	_, _ = memExec(t, tool, `{"action":"save","name":"zeta","content":"z"}`)
	_, _ = memExec(t, tool, `{"action":"save","name":"alpha","content":"a"}`)

	content, isErr := memExec(t, tool, `{"action":"list"}`)
	require.False(t, isErr)
	assert.Equal(t, "alpha\nzeta", content)
}

func TestMemoryListEmpty(t *testing.T) {
	tool := NewMemoryTool(t.TempDir(), testLogger())

	content, isErr := memExec(t, tool, `{"action":"list"}`)
	require.False(t, isErr)
	assert.Equal(t, "no notes", content)
}

func TestMemoryRejectsUnsafeNames(t *testing.T) {
	tool := NewMemoryTool(t.TempDir(), testLogger())

	for _, name := range []string{"../escape", "a/b", "", ".hidden"} {
		params, err := json.Marshal(map[string]string{
			"action": "save", "name": name, "content": "x",
		})
		require.NoError(t, err)
		content, isErr := memExec(t, tool, string(params))
		assert.True(t, isErr, "name %q should be rejected", name)
		assert.Contains(t, content, "invalid note name")
	}
}

func TestMemorySaveRequiresContent(t *testing.T) {
	tool := NewMemoryTool(t.TempDir(), testLogger())

	content, isErr := memExec(t, tool, `{"action":"save","name":"empty"}`)
	assert.True(t, isErr)
	assert.Contains(t, content, "content")
}
