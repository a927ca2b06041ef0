package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"devagent/internal/domain"
)

// consoleRenderer turns the event stream into terminal output. It is the
// only presentation channel: everything the user sees during a run comes
// through bus events.
type consoleRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	streaming bool // a delta line is open and not yet newline-terminated
}

func newConsoleRenderer(out io.Writer) *consoleRenderer {
	return &consoleRenderer{out: out}
}

// Handle renders a single event. Registered as a bus handler.
func (c *consoleRenderer) Handle(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case domain.EventStreamDelta:
		var p domain.StreamDeltaPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		if p.Content != "" {
			fmt.Fprint(c.out, p.Content)
			c.streaming = true
		}

	case domain.EventStreamComplete:
		c.closeStreamLine()

	case domain.EventToolCallRequest:
		c.closeStreamLine()
		var p domain.ToolCallRequestPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Fprintf(c.out, "→ %s %s\n", p.Call.Name, compactArgs(p.Call.Arguments))

	case domain.EventToolCallResponse:
		var p domain.ToolCallResponsePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		status := "ok"
		if p.Result.IsError {
			status = "error"
		}
		fmt.Fprintf(c.out, "← %s [%s] (%s)\n", p.Tool, status, p.Result.Duration)

	case domain.EventStreamError:
		c.closeStreamLine()
		var p domain.StreamErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Fprintf(c.out, "stream error: %s\n", p.Error)

	case domain.EventError:
		c.closeStreamLine()
		var p domain.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		fmt.Fprintf(c.out, "error [%s]: %s\n", p.Code, p.Error)
	}
}

// Flush terminates any open delta line before the final answer is printed.
func (c *consoleRenderer) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeStreamLine()
}

func (c *consoleRenderer) closeStreamLine() {
	if c.streaming {
		fmt.Fprintln(c.out)
		c.streaming = false
	}
}

// compactArgs renders tool arguments on one line, truncated for readability.
func compactArgs(args json.RawMessage) string {
	const maxLen = 120
	var buf json.RawMessage
	if json.Valid(args) {
		buf = args
	} else {
		buf = json.RawMessage("{}")
	}
	s := string(buf)
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
