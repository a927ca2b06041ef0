package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"devagent/internal/domain"
	"devagent/internal/infra/tracer"
)

const executorSource = "executor"

// ToolStats aggregates per-tool execution statistics.
type ToolStats struct {
	Calls         int64         `json:"calls"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AverageLatency returns the mean wall-clock duration per call.
func (s ToolStats) AverageLatency() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// Executor turns tool calls into tool results with full error containment.
// Tool-level failures (unknown tool, invalid arguments, execution failure,
// confirmation denial) never escape as Go errors; every call yields exactly
// one ToolResult, error or not, so the conversation can always continue.
type Executor struct {
	registry  *Registry
	bus       domain.EventBus
	confirmer domain.Confirmer
	policy    domain.ConfirmationPolicy
	logger    *slog.Logger

	mu    sync.Mutex
	stats map[string]*ToolStats
}

// NewExecutor creates an executor over the registry. bus may be nil (no
// events); confirmer may be nil unless policy is per-call, in which case
// confirmation-gated calls are denied.
func NewExecutor(registry *Registry, bus domain.EventBus, confirmer domain.Confirmer, policy domain.ConfirmationPolicy, logger *slog.Logger) *Executor {
	if policy == "" {
		policy = domain.PolicyPerCall
	}
	return &Executor{
		registry:  registry,
		bus:       bus,
		confirmer: confirmer,
		policy:    policy,
		logger:    logger,
		stats:     make(map[string]*ToolStats),
	}
}

// Execute runs the full pipeline for a single call: request event, lookup,
// confirmation gate, middleware chain, timed execution, response event,
// stats. The call's Status field is updated through the lifecycle.
func (e *Executor) Execute(ctx context.Context, call *domain.ToolCall, execCtx domain.ExecutionContext) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "executor.execute",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	call.Status = domain.ToolCallPending
	e.publish(ctx, domain.EventToolCallRequest, execCtx.SessionID, domain.ToolCallRequestPayload{Call: *call})

	// Unknown tool: synthesize an error result immediately. No execution,
	// no middleware.
	t, err := e.registry.Get(call.Name)
	if err != nil {
		call.Status = domain.ToolCallFailed
		res := domain.ToolResult{
			ToolCallID: call.ID,
			Content:    err.Error(),
			IsError:    true,
		}
		tracer.RecordError(span, err)
		e.finish(ctx, call.Name, execCtx.SessionID, res)
		return res
	}

	// Confirmation gate.
	if t.ShouldConfirm(call.Arguments) {
		if denied, reason := e.confirm(ctx, *call); denied {
			call.Status = domain.ToolCallFailed
			res := domain.ToolResult{
				ToolCallID: call.ID,
				Content:    reason,
				IsError:    true,
			}
			tracer.RecordError(span, domain.ErrConfirmationDenied)
			e.finish(ctx, call.Name, execCtx.SessionID, res)
			return res
		}
	}

	// Global middleware wraps tool-specific middleware: the chain runs
	// outermost-first on entry and innermost-first on exit.
	chain := e.registry.Middleware()
	if mp, ok := t.(MiddlewareProvider); ok {
		chain = append(chain, mp.Middleware()...)
	}

	params := call.Arguments
	for _, mw := range chain {
		params, err = mw.BeforeExecution(ctx, call.Name, params)
		if err != nil {
			call.Status = domain.ToolCallFailed
			res := e.recoverError(ctx, chain, call, err, 0)
			e.finish(ctx, call.Name, execCtx.SessionID, res)
			return res
		}
	}

	if ctx.Err() != nil {
		call.Status = domain.ToolCallCancelled
		res := domain.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool call cancelled: %v", ctx.Err()),
			IsError:    true,
		}
		e.finish(ctx, call.Name, execCtx.SessionID, res)
		return res
	}

	call.Status = domain.ToolCallExecuting
	start := time.Now()
	out, err := t.Execute(ctx, params)
	elapsed := time.Since(start)

	if err == nil && out == nil {
		err = fmt.Errorf("%w: tool %q returned no result", domain.ErrExecutionFailed, call.Name)
	}
	if err != nil {
		call.Status = domain.ToolCallFailed
		res := e.recoverError(ctx, chain, call, err, elapsed)
		e.finish(ctx, call.Name, execCtx.SessionID, res)
		return res
	}

	res := *out
	res.ToolCallID = call.ID
	res.Duration = elapsed

	// AfterExecution in reverse: tool-specific first, then global.
	for i := len(chain) - 1; i >= 0; i-- {
		replaced, err := chain[i].AfterExecution(ctx, call.Name, &res)
		if err != nil {
			call.Status = domain.ToolCallFailed
			fallback := e.recoverError(ctx, chain, call, err, elapsed)
			e.finish(ctx, call.Name, execCtx.SessionID, fallback)
			return fallback
		}
		if replaced != nil {
			res = *replaced
			res.ToolCallID = call.ID
		}
	}

	if res.IsError {
		call.Status = domain.ToolCallFailed
	} else {
		call.Status = domain.ToolCallCompleted
		tracer.SetOK(span)
	}
	e.finish(ctx, call.Name, execCtx.SessionID, res)
	return res
}

// ExecuteParallel runs all calls through the pipeline concurrently.
// Results are collected in an indexed slice so they come back in request
// order, not completion order; a failure in one call never aborts siblings.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []domain.ToolCall, execCtx domain.ExecutionContext) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, &calls[idx], execCtx)
		}(i)
	}
	wg.Wait()
	return results
}

// Schemas implements domain.ToolDispatcher.
func (e *Executor) Schemas() []domain.ToolSchema {
	return e.registry.Schemas()
}

// Stats returns a copy of the per-tool execution statistics.
func (e *Executor) Stats() map[string]ToolStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]ToolStats, len(e.stats))
	for name, s := range e.stats {
		out[name] = *s
	}
	return out
}

// ResetStats clears all recorded statistics.
func (e *Executor) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = make(map[string]*ToolStats)
}

// confirm applies the confirmation policy. Returns denied=true with a
// human-readable reason when the call must not run.
func (e *Executor) confirm(ctx context.Context, call domain.ToolCall) (denied bool, reason string) {
	switch e.policy {
	case domain.PolicyAutoApprove:
		return false, ""
	case domain.PolicyNeverExecute:
		return true, fmt.Sprintf("tool %q requires confirmation and the policy is never-execute", call.Name)
	default: // per-call
		if e.confirmer == nil {
			return true, fmt.Sprintf("tool %q requires confirmation and no confirmer is configured", call.Name)
		}
		ok, err := e.confirmer.Confirm(ctx, call)
		if err != nil {
			return true, fmt.Sprintf("confirmation failed for tool %q: %v", call.Name, err)
		}
		if !ok {
			return true, fmt.Sprintf("tool %q execution denied", call.Name)
		}
		return false, ""
	}
}

// recoverError offers each middleware's OnError a chance to supply a
// fallback result, innermost-first. If none does, it synthesizes an error
// result carrying the failure text.
func (e *Executor) recoverError(ctx context.Context, chain []Middleware, call *domain.ToolCall, err error, elapsed time.Duration) domain.ToolResult {
	for i := len(chain) - 1; i >= 0; i-- {
		if fallback := chain[i].OnError(ctx, call.Name, err); fallback != nil {
			res := *fallback
			res.ToolCallID = call.ID
			if res.Duration == 0 {
				res.Duration = elapsed
			}
			return res
		}
	}
	return domain.ToolResult{
		ToolCallID: call.ID,
		Content:    err.Error(),
		IsError:    true,
		Duration:   elapsed,
	}
}

// finish records statistics and publishes the response event for a
// completed pipeline, whatever the outcome.
func (e *Executor) finish(ctx context.Context, toolName, sessionID string, res domain.ToolResult) {
	e.record(toolName, res)
	e.publish(ctx, domain.EventToolCallResponse, sessionID, domain.ToolCallResponsePayload{
		Tool:   toolName,
		Result: res,
	})
	if res.IsError {
		e.publish(ctx, domain.EventError, sessionID, domain.ErrorPayload{Error: res.Content})
	}
}

func (e *Executor) record(toolName string, res domain.ToolResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.stats[toolName]
	if !ok {
		s = &ToolStats{}
		e.stats[toolName] = s
	}
	s.Calls++
	if res.IsError {
		s.Failures++
	} else {
		s.Successes++
	}
	s.TotalDuration += res.Duration
}

func (e *Executor) publish(ctx context.Context, kind domain.EventKind, sessionID string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, domain.NewEvent(kind, executorSource, sessionID, payload))
}

// Compile-time interface check.
var _ domain.ToolDispatcher = (*Executor)(nil)
