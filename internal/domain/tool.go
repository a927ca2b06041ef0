package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolParameter describes one parameter of a tool schema.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, array, object
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Items   `json:"items,omitempty"` // element type for array parameters
}

// Items constrains the element type of an array parameter.
type Items struct {
	Type string `json:"type"`
}

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// ParametersDoc renders the parameter list as a generic JSON Schema object:
// {type: "object", properties: {...}, required: [...]}. This is the default
// wire shape; provider-specific renderings wrap or reshape this document.
func (s ToolSchema) ParametersDoc() json.RawMessage {
	type property struct {
		Type        string   `json:"type"`
		Description string   `json:"description,omitempty"`
		Enum        []string `json:"enum,omitempty"`
		Items       *Items   `json:"items,omitempty"`
		Default     any      `json:"default,omitempty"`
	}
	doc := struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties"`
		Required   []string            `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: make(map[string]property, len(s.Parameters)),
	}
	for _, p := range s.Parameters {
		doc.Properties[p.Name] = property{
			Type:        p.Type,
			Description: p.Description,
			Enum:        p.Enum,
			Items:       p.Items,
			Default:     p.Default,
		}
		if p.Required {
			doc.Required = append(doc.Required, p.Name)
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}

// RequiredParameters returns the names of required parameters in
// declaration order.
func (s ToolSchema) RequiredParameters() []string {
	var names []string
	for _, p := range s.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// ToolCallStatus tracks the lifecycle of a tool call.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallExecuting ToolCallStatus = "executing"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// ToolCall represents an LLM's request to invoke a tool. The ID is an opaque
// correlation token issued by the model. Status transitions are owned by the
// executor; a call is never resurrected after completing or failing.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    ToolCallStatus  `json:"status,omitempty"`
	// Index identifies which call a streamed fragment belongs to; fragments
	// with the same index are merged into one call.
	Index int `json:"index,omitempty"`
}

// ToolResult is the outcome of executing a tool. Immutable once produced;
// exactly one result must exist per tool call before the next model turn.
type ToolResult struct {
	ToolCallID string            `json:"tool_call_id"`
	Content    string            `json:"content"`
	IsError    bool              `json:"is_error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
}

// Tool is the closed capability interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	// ShouldConfirm reports whether executing with these arguments must be
	// gated on the confirmation policy.
	ShouldConfirm(params json.RawMessage) bool
}

// ExecutionContext carries per-invocation identity into tool execution.
// It is not persisted beyond the call; cancellation travels on the ctx.
type ExecutionContext struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ToolDispatcher abstracts tool execution for the orchestrator.
type ToolDispatcher interface {
	// ExecuteParallel runs all calls concurrently and returns one result per
	// call, in request order. A failure in one call never aborts the others.
	ExecuteParallel(ctx context.Context, calls []ToolCall, execCtx ExecutionContext) []ToolResult
	// Schemas returns the schemas of every available tool.
	Schemas() []ToolSchema
}

// ConfirmationPolicy governs whether a confirmation-gated tool call executes.
type ConfirmationPolicy string

const (
	PolicyAutoApprove  ConfirmationPolicy = "auto-approve"
	PolicyNeverExecute ConfirmationPolicy = "never-execute"
	PolicyPerCall      ConfirmationPolicy = "per-call"
)

// ParseConfirmationPolicy maps a config string to a policy.
// Unknown values fall back to per-call confirmation (the safe default).
func ParseConfirmationPolicy(s string) ConfirmationPolicy {
	switch ConfirmationPolicy(s) {
	case PolicyAutoApprove, PolicyNeverExecute, PolicyPerCall:
		return ConfirmationPolicy(s)
	default:
		return PolicyPerCall
	}
}

// Confirmer supplies the yes/no decision for per-call confirmation.
type Confirmer interface {
	Confirm(ctx context.Context, call ToolCall) (bool, error)
}
