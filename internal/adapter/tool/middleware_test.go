package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devagent/internal/domain"
)

func TestSchemaValidationMiddlewareAcceptsValidArgs(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "fs", schema: domain.ToolSchema{
		Name: "fs",
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Required: true, Enum: []string{"read", "write"}},
			{Name: "path", Type: "string", Required: true},
		},
	}})

	mw := NewSchemaValidationMiddleware(reg)
	params := json.RawMessage(`{"action":"read","path":"main.go"}`)
	out, err := mw.BeforeExecution(context.Background(), "fs", params)
	require.NoError(t, err)
	assert.Equal(t, params, out)
}

func TestSchemaValidationMiddlewareRejectsBadArgs(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "fs", schema: domain.ToolSchema{
		Name: "fs",
		Parameters: []domain.ToolParameter{
			{Name: "action", Type: "string", Required: true, Enum: []string{"read", "write"}},
			{Name: "path", Type: "string", Required: true},
		},
	}})
	mw := NewSchemaValidationMiddleware(reg)

	tests := []struct {
		name   string
		params string
	}{
		{"missing required", `{"action":"read"}`},
		{"bad enum value", `{"action":"explode","path":"x"}`},
		{"wrong type", `{"action":"read","path":42}`},
		{"not json", `{"action":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mw.BeforeExecution(context.Background(), "fs", json.RawMessage(tt.params))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestSchemaValidationMiddlewareSkipsParameterlessTools(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubTool{name: "noop"})
	mw := NewSchemaValidationMiddleware(reg)

	out, err := mw.BeforeExecution(context.Background(), "noop", json.RawMessage(`{"anything":"goes"}`))
	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestSchemaValidationInExecutorPipeline(t *testing.T) {
	stub := &stubTool{name: "fs", schema: domain.ToolSchema{
		Name: "fs",
		Parameters: []domain.ToolParameter{
			{Name: "path", Type: "string", Required: true},
		},
	}}
	exec, reg, _ := newTestExecutor(t, domain.PolicyAutoApprove, nil, stub)
	reg.Use(NewSchemaValidationMiddleware(reg))

	call := domain.ToolCall{ID: "tc", Name: "fs", Arguments: json.RawMessage(`{}`)}
	res := exec.Execute(context.Background(), &call, domain.ExecutionContext{})

	// Validation failure is a recoverable error result; the tool body never ran.
	assert.True(t, res.IsError)
	assert.False(t, stub.executed)
	assert.Contains(t, res.Content, "path")
}

func TestRateLimitMiddlewareThrottles(t *testing.T) {
	mw := NewRateLimitMiddleware(50, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := mw.BeforeExecution(context.Background(), "t", nil)
		require.NoError(t, err)
	}
	// Burst 1 at 50/sec: two of the three calls wait ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimitMiddlewareRespectsCancellation(t *testing.T) {
	mw := NewRateLimitMiddleware(0.001, 1)

	_, err := mw.BeforeExecution(context.Background(), "t", nil) // consumes the burst
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mw.BeforeExecution(ctx, "t", nil)
	assert.Error(t, err)
}
