package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"devagent/internal/domain"
)

// terminalConfirmer prompts the user on the terminal for per-call tool
// confirmation. Prompts are serialized so parallel tool calls never
// interleave their questions.
type terminalConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminalConfirmer(in io.Reader, out io.Writer) *terminalConfirmer {
	return &terminalConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm implements domain.Confirmer. Only an explicit "y"/"yes" approves.
func (c *terminalConfirmer) Confirm(ctx context.Context, call domain.ToolCall) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(c.out, "\nallow %s %s? [y/N] ", call.Name, compactArgs(call.Arguments))
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Compile-time interface check.
var _ domain.Confirmer = (*terminalConfirmer)(nil)
