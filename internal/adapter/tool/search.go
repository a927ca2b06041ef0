package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"devagent/internal/domain"
	"devagent/internal/security"
)

const (
	defaultMaxMatches = 100
	maxGrepFileSize   = 1 * 1024 * 1024 // skip files larger than 1 MB
)

// SearchTool finds files by glob pattern and searches file contents by
// regular expression, scoped to the sandbox.
type SearchTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewSearchTool creates the search tool.
func NewSearchTool(sandbox *security.Sandbox, logger *slog.Logger) *SearchTool {
	return &SearchTool{sandbox: sandbox, logger: logger}
}

type searchParams struct {
	Action     string `json:"action"`
	Pattern    string `json:"pattern"`
	Path       string `json:"path,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search the workspace: glob matches file paths against a pattern, " +
		"grep searches file contents with a regular expression."
}

func (t *SearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Required: true, Enum: []string{"glob", "grep"}},
			{Name: "pattern", Type: "string", Description: "glob pattern or regular expression", Required: true},
			{Name: "path", Type: "string", Description: "directory to search, relative to the workspace"},
			{Name: "max_results", Type: "integer", Description: "result cap, default 100"},
		},
	}
}

func (t *SearchTool) ShouldConfirm(json.RawMessage) bool { return false }

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Invoke(ctx, "tool.search", t.logger, params,
		Dispatch(func(p searchParams) string { return p.Action }, ActionMap[searchParams]{
			"glob": t.handleGlob,
			"grep": t.handleGrep,
		}),
	)
}

func (t *SearchTool) handleGlob(_ context.Context, p searchParams) (any, error) {
	if p.Pattern == "" {
		return ErrResult("glob requires a pattern")
	}

	root, err := t.searchRoot(p.Path)
	if err != nil {
		return nil, err
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = defaultMaxMatches
	}

	matches, err := filepath.Glob(filepath.Join(root, p.Pattern))
	if err != nil {
		return ErrResult("bad glob pattern %q: %v", p.Pattern, err)
	}

	var out []string
	for _, m := range matches {
		if len(out) >= limit {
			break
		}
		// Glob patterns with ".." segments could step outside; re-validate.
		if _, err := t.sandbox.ValidatePath(m); err != nil {
			continue
		}
		rel, err := filepath.Rel(t.sandbox.Root(), m)
		if err != nil {
			rel = m
		}
		out = append(out, rel)
	}

	if len(out) == 0 {
		return "no files match", nil
	}
	return strings.Join(out, "\n"), nil
}

func (t *SearchTool) handleGrep(ctx context.Context, p searchParams) (any, error) {
	if p.Pattern == "" {
		return ErrResult("grep requires a pattern")
	}

	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return ErrResult("bad regular expression %q: %v", p.Pattern, err)
	}

	root, err := t.searchRoot(p.Path)
	if err != nil {
		return nil, err
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = defaultMaxMatches
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		if len(out) >= limit {
			return filepath.SkipAll
		}

		matches, err := t.grepFile(path, re, limit-len(out))
		if err != nil {
			return nil
		}
		out = append(out, matches...)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	if len(out) == 0 {
		return "no matches", nil
	}
	return strings.Join(out, "\n"), nil
}

func (t *SearchTool) grepFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(t.sandbox.Root(), path)
	if err != nil {
		rel = path
	}

	var matches []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	line := 0
	for scanner.Scan() {
		line++
		if re.Match(scanner.Bytes()) {
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, line, scanner.Text()))
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

func (t *SearchTool) searchRoot(path string) (string, error) {
	if path == "" {
		return t.sandbox.Root(), nil
	}
	return t.sandbox.ValidatePath(path)
}

// Compile-time interface check.
var _ domain.Tool = (*SearchTool)(nil)
