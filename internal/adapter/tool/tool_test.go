package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"devagent/internal/domain"
)

// discard logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// stubTool is a scriptable tool for executor and registry tests.
type stubTool struct {
	name     string
	confirm  bool
	schema   domain.ToolSchema
	execute  func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
	executed bool
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool " + s.name }

func (s *stubTool) Schema() domain.ToolSchema {
	if s.schema.Name != "" {
		return s.schema
	}
	return domain.ToolSchema{Name: s.name, Description: s.Description()}
}

func (s *stubTool) ShouldConfirm(json.RawMessage) bool { return s.confirm }

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	s.executed = true
	if s.execute != nil {
		return s.execute(ctx, params)
	}
	return &domain.ToolResult{Content: "ok"}, nil
}

// captureBus records published events for assertions.
type captureBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *captureBus) Publish(_ context.Context, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *captureBus) Subscribe([]domain.EventKind, domain.EventHandler, int) string { return "" }
func (b *captureBus) Unsubscribe(string)                                            {}
func (b *captureBus) History([]domain.EventKind, int) []domain.Event                { return nil }
func (b *captureBus) Shutdown()                                                     {}

func (b *captureBus) kinds() []domain.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventKind, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind
	}
	return out
}

// staticConfirmer answers every confirmation with a fixed decision.
type staticConfirmer struct {
	approve bool
	err     error
	asked   int
}

func (c *staticConfirmer) Confirm(context.Context, domain.ToolCall) (bool, error) {
	c.asked++
	return c.approve, c.err
}
