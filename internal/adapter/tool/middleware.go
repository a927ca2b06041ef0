package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"devagent/internal/domain"
)

// Middleware hooks into the tool execution pipeline. The executor applies
// the chain with stack discipline: BeforeExecution outermost-first,
// AfterExecution innermost-first.
type Middleware interface {
	// BeforeExecution runs before the tool; it may rewrite the argument map.
	// Returning an error aborts the call and routes through OnError.
	BeforeExecution(ctx context.Context, toolName string, params json.RawMessage) (json.RawMessage, error)
	// AfterExecution runs after the tool; it may replace the result.
	// A nil result keeps the current one.
	AfterExecution(ctx context.Context, toolName string, result *domain.ToolResult) (*domain.ToolResult, error)
	// OnError may supply a fallback result for a failed call.
	// Returning nil declines; the next middleware is offered the error.
	OnError(ctx context.Context, toolName string, err error) *domain.ToolResult
}

// MiddlewareProvider is implemented by tools that carry their own
// middleware, applied inside the global chain.
type MiddlewareProvider interface {
	Middleware() []Middleware
}

// NopMiddleware provides no-op implementations of all three hooks.
// Embed it to implement only the hooks a middleware cares about.
type NopMiddleware struct{}

func (NopMiddleware) BeforeExecution(_ context.Context, _ string, params json.RawMessage) (json.RawMessage, error) {
	return params, nil
}

func (NopMiddleware) AfterExecution(_ context.Context, _ string, result *domain.ToolResult) (*domain.ToolResult, error) {
	return result, nil
}

func (NopMiddleware) OnError(_ context.Context, _ string, _ error) *domain.ToolResult {
	return nil
}

// LoggingMiddleware logs every tool execution at debug level and failures
// at warn level.
type LoggingMiddleware struct {
	NopMiddleware
	logger *slog.Logger
}

// NewLoggingMiddleware creates a logging middleware.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) BeforeExecution(_ context.Context, toolName string, params json.RawMessage) (json.RawMessage, error) {
	m.logger.Debug("tool call starting", "tool", toolName, "args_bytes", len(params))
	return params, nil
}

func (m *LoggingMiddleware) AfterExecution(_ context.Context, toolName string, result *domain.ToolResult) (*domain.ToolResult, error) {
	m.logger.Debug("tool call finished",
		"tool", toolName,
		"is_error", result.IsError,
		"duration", result.Duration,
	)
	return result, nil
}

func (m *LoggingMiddleware) OnError(_ context.Context, toolName string, err error) *domain.ToolResult {
	m.logger.Warn("tool call failed", "tool", toolName, "error", err)
	return nil
}

// RateLimitMiddleware throttles tool execution with a token bucket.
// BeforeExecution blocks until a token is available or ctx is cancelled.
type RateLimitMiddleware struct {
	NopMiddleware
	limiter *rate.Limiter
}

// NewRateLimitMiddleware allows rps executions per second with the given
// burst capacity.
func NewRateLimitMiddleware(rps float64, burst int) *RateLimitMiddleware {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitMiddleware{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *RateLimitMiddleware) BeforeExecution(ctx context.Context, toolName string, params json.RawMessage) (json.RawMessage, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %q: %w", toolName, err)
	}
	return params, nil
}
