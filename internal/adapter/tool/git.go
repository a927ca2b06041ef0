package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"devagent/internal/domain"
)

const gitTimeout = 30 * time.Second

// GitTool provides read-only repository introspection: status, log, diff,
// and branch listing. It never mutates the repository, so no confirmation
// gate applies.
type GitTool struct {
	workdir string
	logger  *slog.Logger
}

// NewGitTool creates the git tool rooted at the workspace.
func NewGitTool(workdir string, logger *slog.Logger) *GitTool {
	return &GitTool{workdir: workdir, logger: logger}
}

type gitParams struct {
	Action string `json:"action"`
	Ref    string `json:"ref,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (t *GitTool) Name() string { return "git" }

func (t *GitTool) Description() string {
	return "Inspect the workspace git repository: status, recent log, diff, and branches. Read-only."
}

func (t *GitTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Required: true,
				Enum: []string{"status", "log", "diff", "branch"}},
			{Name: "ref", Type: "string", Description: "commit or range for log/diff"},
			{Name: "path", Type: "string", Description: "limit diff to a path"},
		},
	}
}

func (t *GitTool) ShouldConfirm(json.RawMessage) bool { return false }

func (t *GitTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Invoke(ctx, "tool.git", t.logger, params,
		Dispatch(func(p gitParams) string { return p.Action }, ActionMap[gitParams]{
			"status": t.handleStatus,
			"log":    t.handleLog,
			"diff":   t.handleDiff,
			"branch": t.handleBranch,
		}),
	)
}

func (t *GitTool) handleStatus(ctx context.Context, _ gitParams) (any, error) {
	return t.run(ctx, "status", "--short", "--branch")
}

func (t *GitTool) handleLog(ctx context.Context, p gitParams) (any, error) {
	args := []string{"log", "--oneline", "--decorate", "-n", "20"}
	if p.Ref != "" {
		args = append(args, p.Ref)
	}
	return t.run(ctx, args...)
}

func (t *GitTool) handleDiff(ctx context.Context, p gitParams) (any, error) {
	args := []string{"diff", "--stat", "--patch"}
	if p.Ref != "" {
		args = append(args, p.Ref)
	}
	if p.Path != "" {
		args = append(args, "--", p.Path)
	}
	return t.run(ctx, args...)
}

func (t *GitTool) handleBranch(ctx context.Context, _ gitParams) (any, error) {
	return t.run(ctx, "branch", "--all", "--verbose")
}

func (t *GitTool) run(ctx context.Context, args ...string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}

	out := strings.TrimRight(string(truncateOutput(stdout.Bytes())), "\n")
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.Tool = (*GitTool)(nil)
