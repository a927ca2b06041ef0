package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devagent/internal/domain"
	"devagent/internal/infra/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "test",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "gpt-test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChatSuccess(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model) // default model filled in
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{
			"id": "resp-1",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
			"created": 1700000000
		}`))
	})

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "hi", resp.Message.Content)
	assert.Equal(t, domain.FinishStop, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestChatParsesToolCalls(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "resp-2",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {
				"role": "assistant",
				"tool_calls": [{"id": "tc1", "type": "function",
					"function": {"name": "shell", "arguments": "{\"command\":\"ls\"}"}}]
			}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 5, "total_tokens": 10},
			"created": 1700000000
		}`))
	})

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "list files"}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "tc1", call.ID)
	assert.Equal(t, "shell", call.Name)
	assert.Equal(t, domain.ToolCallPending, call.Status)
	assert.JSONEq(t, `{"command":"ls"}`, string(call.Arguments))
}

func TestChatRequestWiresToolSchemas(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		require.Len(t, req.Tools, 1)
		assert.Equal(t, "function", req.Tools[0].Type)
		assert.Equal(t, "shell", req.Tools[0].Function.Name)

		var params struct {
			Type     string   `json:"type"`
			Required []string `json:"required"`
		}
		require.NoError(t, json.Unmarshal(req.Tools[0].Function.Parameters, &params))
		assert.Equal(t, "object", params.Type)
		assert.Equal(t, []string{"command"}, params.Required)

		_, _ = w.Write([]byte(`{"id":"r","model":"m","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{},"created":0}`))
	})

	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
		Tools: []domain.ToolSchema{{
			Name: "shell",
			Parameters: []domain.ToolParameter{
				{Name: "command", Type: "string", Required: true},
			},
		}},
	})
	require.NoError(t, err)
}

func TestChatRequestMapsToolResultMessages(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		require.Len(t, req.Messages, 3)
		assistant := req.Messages[1]
		require.Len(t, assistant.ToolCalls, 1)
		assert.Equal(t, "tc1", assistant.ToolCalls[0].ID)

		toolMsg := req.Messages[2]
		assert.Equal(t, "tool", toolMsg.Role)
		assert.Equal(t, "tc1", toolMsg.ToolCallID)
		assert.Equal(t, "file.txt", toolMsg.Content)

		_, _ = w.Write([]byte(`{"id":"r","model":"m","choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{},"created":0}`))
	})

	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "list"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "tc1", Name: "shell", Arguments: json.RawMessage(`{"command":"ls"}`)},
			}},
			{Role: domain.RoleTool, ToolCallID: "tc1", Content: "file.txt"},
		},
	})
	require.NoError(t, err)
}

func TestChatMapsAPIErrors(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	})

	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestChatStreamContentAndFinish(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2,\"total_tokens\":6}}\n\n")
	})

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	deltas := collectDeltas(t, ch)
	require.Len(t, deltas, 3)
	assert.Equal(t, "hel", deltas[0].Content)
	assert.Equal(t, "lo", deltas[1].Content)

	final := deltas[2]
	assert.True(t, final.Done)
	assert.Equal(t, domain.FinishStop, final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 6, final.Usage.TotalTokens)
}

func TestChatStreamToolCallFragments(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"tc1\",\"function\":{\"name\":\"shell\",\"arguments\":\"{\\\"com\"}}]},\"finish_reason\":null}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"mand\\\":\\\"ls\\\"}\"}}]},\"finish_reason\":null}]}\n\n")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n")
	})

	ch, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "list"}},
	})
	require.NoError(t, err)

	deltas := collectDeltas(t, ch)
	require.Len(t, deltas, 3)

	first := deltas[0]
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "tc1", first.ToolCalls[0].ID)
	assert.Equal(t, "shell", first.ToolCalls[0].Name)
	assert.Equal(t, 0, first.ToolCalls[0].Index)
	assert.Equal(t, `{"com`, string(first.ToolCalls[0].Arguments))

	second := deltas[1]
	require.Len(t, second.ToolCalls, 1)
	assert.Empty(t, second.ToolCalls[0].ID)
	assert.Equal(t, `mand":"ls"}`, string(second.ToolCalls[0].Arguments))

	assert.Equal(t, domain.FinishToolCalls, deltas[2].FinishReason)
	assert.True(t, deltas[2].Done)
}

func TestChatStreamErrorStatus(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	})

	_, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}
