package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"devagent/internal/domain"
	"devagent/internal/security"
)

// maxReadBytes caps how much file content is returned to the model.
const maxReadBytes = 256 * 1024

// FilesystemTool reads, writes, edits, and lists files inside the sandbox.
// Write and edit actions are confirmation-gated.
type FilesystemTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewFilesystemTool creates the filesystem tool.
func NewFilesystemTool(sandbox *security.Sandbox, logger *slog.Logger) *FilesystemTool {
	return &FilesystemTool{sandbox: sandbox, logger: logger}
}

type fsParams struct {
	Action    string `json:"action"`
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	OldString string `json:"old_string,omitempty"`
	NewString string `json:"new_string,omitempty"`
}

func (t *FilesystemTool) Name() string { return "filesystem" }

func (t *FilesystemTool) Description() string {
	return "Read, write, edit, and list files in the workspace. " +
		"edit replaces every exact occurrence of old_string with new_string."
}

func (t *FilesystemTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Description: "operation to perform", Required: true,
				Enum: []string{"read", "write", "edit", "list"}},
			{Name: "path", Type: "string", Description: "file or directory path, relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "full file content for write"},
			{Name: "old_string", Type: "string", Description: "exact text to replace for edit"},
			{Name: "new_string", Type: "string", Description: "replacement text for edit"},
		},
	}
}

// ShouldConfirm gates mutating actions on the confirmation policy.
func (t *FilesystemTool) ShouldConfirm(params json.RawMessage) bool {
	var p fsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}
	return p.Action == "write" || p.Action == "edit"
}

func (t *FilesystemTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Invoke(ctx, "tool.filesystem", t.logger, params,
		Dispatch(func(p fsParams) string { return p.Action }, ActionMap[fsParams]{
			"read":  t.handleRead,
			"write": t.handleWrite,
			"edit":  t.handleEdit,
			"list":  t.handleList,
		}),
	)
}

func (t *FilesystemTool) handleRead(_ context.Context, p fsParams) (any, error) {
	path, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}

	if len(data) > maxReadBytes {
		return fmt.Sprintf("%s\n... [truncated, %d of %d bytes shown]",
			data[:maxReadBytes], maxReadBytes, len(data)), nil
	}
	return string(data), nil
}

func (t *FilesystemTool) handleWrite(_ context.Context, p fsParams) (any, error) {
	path, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.Path), nil
}

func (t *FilesystemTool) handleEdit(_ context.Context, p fsParams) (any, error) {
	if p.OldString == "" {
		return ErrResult("edit requires a non-empty old_string")
	}
	if p.OldString == p.NewString {
		return ErrResult("old_string and new_string are identical")
	}

	path, err := t.sandbox.ValidatePath(p.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}

	content := string(data)
	count := strings.Count(content, p.OldString)
	if count == 0 {
		return ErrResult("old_string not found in %s", p.Path)
	}

	updated := strings.ReplaceAll(content, p.OldString, p.NewString)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", p.Path, err)
	}
	return fmt.Sprintf("replaced %d occurrence(s) in %s", count, p.Path), nil
}

func (t *FilesystemTool) handleList(_ context.Context, p fsParams) (any, error) {
	dir := p.Path
	if dir == "" {
		dir = "."
	}
	path, err := t.sandbox.ValidatePath(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(&b, "%s\n", e.Name())
			continue
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), info.Size())
	}
	if b.Len() == 0 {
		return "directory is empty", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Compile-time interface check.
var _ domain.Tool = (*FilesystemTool)(nil)
