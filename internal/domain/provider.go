package domain

import "context"

// CompletionProvider is the interface for any model-completion backend.
type CompletionProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming response.
// The first fragment of a tool call carries its ID and Name; subsequent
// fragments at the same index append argument bytes.
type StreamDelta struct {
	Content      string     `json:"content,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Done         bool       `json:"done,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
	// Err marks a transport failure detected mid-stream. A delta carrying
	// Err is terminal; any content accumulated before it is incomplete.
	Err error `json:"-"`
}

// StreamingCompletionProvider extends CompletionProvider with streaming.
type StreamingCompletionProvider interface {
	CompletionProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// The channel is closed when the stream ends or ctx is cancelled.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
