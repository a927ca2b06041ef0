package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"devagent/internal/domain"
)

// noteNameRe restricts note names to a safe character set so they cannot
// escape the notes directory.
var noteNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MemoryTool persists named notes under a data directory, giving the model
// durable scratch space across turns within a session.
type MemoryTool struct {
	dir    string
	logger *slog.Logger
}

// NewMemoryTool creates the memory tool storing notes under dir.
func NewMemoryTool(dir string, logger *slog.Logger) *MemoryTool {
	return &MemoryTool{dir: dir, logger: logger}
}

type memoryParams struct {
	Action  string `json:"action"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Save, list, read, and delete named notes. Use notes to remember findings between steps."
}

func (t *MemoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Required: true,
				Enum: []string{"save", "list", "read", "delete"}},
			{Name: "name", Type: "string", Description: "note name (letters, digits, . _ -)"},
			{Name: "content", Type: "string", Description: "note body for save"},
		},
	}
}

func (t *MemoryTool) ShouldConfirm(json.RawMessage) bool { return false }

func (t *MemoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Invoke(ctx, "tool.memory", t.logger, params,
		Dispatch(func(p memoryParams) string { return p.Action }, ActionMap[memoryParams]{
			"save":   t.handleSave,
			"list":   t.handleList,
			"read":   t.handleRead,
			"delete": t.handleDelete,
		}),
	)
}

func (t *MemoryTool) handleSave(_ context.Context, p memoryParams) (any, error) {
	path, res := t.notePath(p.Name)
	if res != nil {
		return res, nil
	}
	if p.Content == "" {
		return ErrResult("save requires content")
	}

	if err := os.MkdirAll(t.dir, 0750); err != nil {
		return nil, fmt.Errorf("create notes directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(p.Content), 0600); err != nil {
		return nil, fmt.Errorf("save note %q: %w", p.Name, err)
	}
	return fmt.Sprintf("saved note %q (%d bytes)", p.Name, len(p.Content)), nil
}

func (t *MemoryTool) handleList(_ context.Context, _ memoryParams) (any, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "no notes", nil
		}
		return nil, fmt.Errorf("list notes: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, strings.TrimSuffix(e.Name(), ".md"))
		}
	}
	if len(names) == 0 {
		return "no notes", nil
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (t *MemoryTool) handleRead(_ context.Context, p memoryParams) (any, error) {
	path, res := t.notePath(p.Name)
	if res != nil {
		return res, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrResult("note %q not found", p.Name)
		}
		return nil, fmt.Errorf("read note %q: %w", p.Name, err)
	}
	return string(data), nil
}

func (t *MemoryTool) handleDelete(_ context.Context, p memoryParams) (any, error) {
	path, res := t.notePath(p.Name)
	if res != nil {
		return res, nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrResult("note %q not found", p.Name)
		}
		return nil, fmt.Errorf("delete note %q: %w", p.Name, err)
	}
	return fmt.Sprintf("deleted note %q", p.Name), nil
}

// notePath validates the note name and returns its on-disk path.
// Invalid names yield an error ToolResult instead of a Go error so the
// model sees the problem.
func (t *MemoryTool) notePath(name string) (string, *domain.ToolResult) {
	if !noteNameRe.MatchString(name) {
		res, _ := ErrResult("invalid note name %q: use letters, digits, dots, underscores, hyphens", name)
		return "", res
	}
	return filepath.Join(t.dir, name+".md"), nil
}

// Compile-time interface check.
var _ domain.Tool = (*MemoryTool)(nil)
