package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"devagent/internal/domain"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 10 * time.Minute
	maxOutputBytes      = 64 * 1024
)

// ShellTool executes allowlisted shell commands in the workspace with a
// hard timeout kill. Every invocation is confirmation-gated.
type ShellTool struct {
	workdir   string
	allowlist map[string]struct{}
	timeout   time.Duration
	logger    *slog.Logger
}

// NewShellTool creates the shell tool. allowlist holds the permitted first
// tokens of a command line; timeout is the default per-invocation limit.
func NewShellTool(workdir string, allowlist []string, timeout time.Duration, logger *slog.Logger) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, cmd := range allowlist {
		allowed[cmd] = struct{}{}
	}
	return &ShellTool{
		workdir:   workdir,
		allowlist: allowed,
		timeout:   timeout,
		logger:    logger,
	}
}

type shellParams struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute an allowlisted shell command in the workspace and return its output."
}

func (t *ShellTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []domain.ToolParameter{
			{Name: "command", Type: "string", Description: "command line to run", Required: true},
			{Name: "timeout_seconds", Type: "integer", Description: "per-invocation timeout override"},
		},
	}
}

// ShouldConfirm always gates shell execution on the confirmation policy.
func (t *ShellTool) ShouldConfirm(json.RawMessage) bool { return true }

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p shellParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	command := strings.TrimSpace(p.Command)
	if command == "" {
		return ErrResult("command is empty")
	}

	if err := t.checkAllowlist(command); err != nil {
		return &domain.ToolResult{IsError: true, Content: err.Error()}, nil
	}

	timeout := t.timeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workdir
	cmd.WaitDelay = 2 * time.Second // hard kill if the process ignores the signal

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	t.logger.Debug("shell command finished",
		"command", command,
		"duration", elapsed,
		"error", runErr,
	)

	content := formatShellOutput(stdout.Bytes(), stderr.Bytes())
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	metadata := map[string]string{
		"exit_code": strconv.Itoa(exitCode),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ToolResult{
			IsError:  true,
			Content:  fmt.Sprintf("command timed out after %s\n%s", timeout, content),
			Metadata: metadata,
		}, nil
	}
	if runErr != nil {
		return &domain.ToolResult{
			IsError:  true,
			Content:  fmt.Sprintf("command failed: %v\n%s", runErr, content),
			Metadata: metadata,
		}, nil
	}

	if content == "" {
		content = "(no output)"
	}
	return &domain.ToolResult{Content: content, Metadata: metadata}, nil
}

// checkAllowlist validates the first token of the command line.
func (t *ShellTool) checkAllowlist(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", domain.ErrCommandNotAllowed)
	}
	if _, ok := t.allowlist[fields[0]]; !ok {
		return domain.NewDomainError("ShellTool.Execute", domain.ErrCommandNotAllowed, fields[0])
	}
	return nil
}

func formatShellOutput(stdout, stderr []byte) string {
	var b strings.Builder
	if len(stdout) > 0 {
		b.Write(truncateOutput(stdout))
	}
	if len(stderr) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.Write(truncateOutput(stderr))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateOutput(out []byte) []byte {
	if len(out) <= maxOutputBytes {
		return out
	}
	marker := []byte(fmt.Sprintf("\n... [truncated, %d bytes total]", len(out)))
	return append(out[:maxOutputBytes], marker...)
}

// Compile-time interface check.
var _ domain.Tool = (*ShellTool)(nil)
