package domain

// StreamStartPayload is the payload for EventStreamStart events.
// Published once per turn before the first delta arrives.
type StreamStartPayload struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Turn     int    `json:"turn"`
}

// StreamDeltaPayload is the payload for EventStreamDelta events.
// Published for each incremental chunk during a streaming response.
type StreamDeltaPayload struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Turn      int        `json:"turn"`
}

// StreamCompletePayload is the payload for EventStreamComplete events.
// Published once when the full aggregated response is available, and also
// after a stream error so subscribers always observe a closing marker.
type StreamCompletePayload struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Turn         int    `json:"turn"`
}

// StreamErrorPayload is the payload for EventStreamError events.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// ToolCallRequestPayload is the payload for EventToolCallRequest events.
type ToolCallRequestPayload struct {
	Call ToolCall `json:"call"`
}

// ToolCallResponsePayload is the payload for EventToolCallResponse events.
type ToolCallResponsePayload struct {
	Tool   string     `json:"tool"`
	Result ToolResult `json:"result"`
}

// ToolResultPayload is the payload for EventToolResult events, published by
// the orchestrator when a result is appended to the conversation.
type ToolResultPayload struct {
	Tool   string     `json:"tool,omitempty"`
	Result ToolResult `json:"result"`
}

// TokenCountPayload is the payload for EventTokenCount events.
// Estimated is true when the transport omitted usage counters and the
// numbers come from a local tokenizer estimate.
type TokenCountPayload struct {
	Usage     Usage `json:"usage"`
	Estimated bool  `json:"estimated,omitempty"`
	Turn      int   `json:"turn"`
}

// ErrorPayload is the payload for EventError events.
type ErrorPayload struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code,omitempty"`
}
