package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devagent/internal/domain"
)

// Sandbox enforces path constraints for file operations: every path a tool
// touches must resolve to within the workspace root.
type Sandbox struct {
	root string // absolute, resolved workspace root
}

// NewSandbox creates a sandbox rooted at the given directory.
func NewSandbox(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for sandbox root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory", resolved)
	}

	return &Sandbox{root: resolved}, nil
}

// ValidatePath checks that a requested path resolves to within the sandbox.
// Relative paths are resolved against the sandbox root. Symlinks are
// resolved after computing the absolute path, so a link pointing outside
// the root is rejected even when the link itself lives inside.
func (s *Sandbox) ValidatePath(requested string) (string, error) {
	abs := requested
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path doesn't exist yet - resolve the deepest existing ancestor
		// and rejoin the remainder onto it.
		base := abs
		var tail []string
		for {
			parent := filepath.Dir(base)
			if parent == base {
				return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox, err.Error())
			}
			tail = append([]string{filepath.Base(base)}, tail...)
			if rp, err2 := filepath.EvalSymlinks(parent); err2 == nil {
				resolved = filepath.Join(append([]string{rp}, tail...)...)
				break
			}
			base = parent
		}
	}

	if !s.isWithinRoot(resolved) {
		return "", domain.NewDomainError("Sandbox.ValidatePath", domain.ErrPathOutsideSandbox,
			fmt.Sprintf("resolved %q is outside root %q", resolved, s.root))
	}

	return resolved, nil
}

// Root returns the sandbox root directory.
func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) isWithinRoot(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
