package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"devagent/internal/domain"
	"devagent/internal/infra/tracer"
)

// DefaultMaxTurns bounds the completion↔tool loop when no explicit cap is
// configured.
const DefaultMaxTurns = 24

// Policies for a streamed tool call that never received a name.
const (
	MissingToolNameSkip  = "skip"  // drop the call before appending the turn
	MissingToolNameError = "error" // treat the turn as a protocol violation
)

// OrchestratorDeps holds injected dependencies for the conversation loop.
type OrchestratorDeps struct {
	Provider domain.CompletionProvider
	Tools    domain.ToolDispatcher
	Bus      domain.EventBus // optional, nil = no events
	Logger   *slog.Logger
	Tokens   *TokenCounter // optional, nil = no local usage estimates

	Model           string
	MaxTokens       int
	Temperature     float64
	MaxTurns        int
	MissingToolName string
}

// Orchestrator drives the conversation loop: send history, stream the model
// response, dispatch tool calls, append results, repeat until the model
// answers without calls or the turn cap is hit.
type Orchestrator struct {
	deps OrchestratorDeps
}

// NewOrchestrator creates an orchestrator, filling in defaults for the turn
// cap and the missing-tool-name policy.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.MaxTurns <= 0 {
		deps.MaxTurns = DefaultMaxTurns
	}
	if deps.MissingToolName == "" {
		deps.MissingToolName = MissingToolNameSkip
	}
	return &Orchestrator{deps: deps}
}

// Run executes one task to completion and returns the model's final answer.
func (o *Orchestrator) Run(ctx context.Context, session *Session, task string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.run",
		trace.WithAttributes(tracer.StringAttr("session.id", session.ID)),
	)
	defer span.End()

	ctx = domain.ContextWithSessionID(ctx, session.ID)
	session.AppendUser(task)

	var totalUsage domain.Usage

	for turn := 0; turn < o.deps.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		span.AddEvent("orchestrator.turn", trace.WithAttributes(tracer.IntAttr("turn", turn)))

		req := domain.ChatRequest{
			Model:       o.deps.Model,
			Messages:    session.Messages(),
			Tools:       o.deps.Tools.Schemas(),
			MaxTokens:   o.deps.MaxTokens,
			Temperature: o.deps.Temperature,
		}

		o.publish(ctx, session.ID, domain.EventStreamStart, domain.StreamStartPayload{
			Provider: o.deps.Provider.Name(),
			Model:    o.deps.Model,
			Turn:     turn,
		})

		msg, usage, finishReason, err := o.completeTurn(ctx, session.ID, req, turn)
		if err != nil {
			// Transport failure is fatal to the task. Subscribers still see a
			// closing stream.complete after the error event.
			tracer.RecordError(span, err)
			o.publish(ctx, session.ID, domain.EventStreamError, domain.StreamErrorPayload{Error: err.Error()})
			o.publish(ctx, session.ID, domain.EventStreamComplete, domain.StreamCompletePayload{Turn: turn})
			return "", err
		}

		o.publish(ctx, session.ID, domain.EventStreamComplete, domain.StreamCompletePayload{
			Content:      msg.Content,
			FinishReason: finishReason,
			Usage:        &usage,
			Turn:         turn,
		})

		estimated := false
		if usage.TotalTokens == 0 && o.deps.Tokens != nil {
			usage.PromptTokens = o.deps.Tokens.CountMessages(req.Messages)
			usage.CompletionTokens = o.deps.Tokens.Count(msg.Content)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			estimated = true
		}
		totalUsage.Add(usage)
		o.publish(ctx, session.ID, domain.EventTokenCount, domain.TokenCountPayload{
			Usage:     usage,
			Estimated: estimated,
			Turn:      turn,
		})

		msg, err = o.applyMissingNamePolicy(ctx, session.ID, msg)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}

		if err := session.AppendAssistant(msg); err != nil {
			// A turn with neither content nor tool calls never reaches
			// history; the run terminates instead of silently re-asking.
			o.deps.Logger.Error("assistant turn violates protocol",
				"turn", turn, "finish_reason", finishReason)
			o.publishError(ctx, session.ID, err)
			tracer.RecordError(span, err)
			return "", err
		}

		o.deps.Logger.Debug("assistant turn",
			"turn", turn,
			"tool_calls", len(msg.ToolCalls),
			"finish_reason", finishReason,
			"tokens", usage.TotalTokens,
		)

		if len(msg.ToolCalls) == 0 {
			tracer.SetOK(span)
			return msg.Content, nil
		}

		results := o.deps.Tools.ExecuteParallel(ctx, msg.ToolCalls, domain.ExecutionContext{
			Provider:  o.deps.Provider.Name(),
			Model:     o.deps.Model,
			SessionID: session.ID,
		})

		if err := session.AppendToolResults(results); err != nil {
			o.publishError(ctx, session.ID, err)
			tracer.RecordError(span, err)
			return "", err
		}
		for i, res := range results {
			o.publish(ctx, session.ID, domain.EventToolResult, domain.ToolResultPayload{
				Tool:   msg.ToolCalls[i].Name,
				Result: res,
			})
		}
	}

	err := domain.NewDomainError("Orchestrator.Run", domain.ErrMaxTurns,
		o.deps.Model)
	o.publishError(ctx, session.ID, err)
	tracer.RecordError(span, err)
	return "", err
}

// completeTurn obtains one full assistant turn, streaming when the provider
// supports it and falling back to a synchronous call otherwise.
func (o *Orchestrator) completeTurn(ctx context.Context, sessionID string, req domain.ChatRequest, turn int) (domain.Message, domain.Usage, string, error) {
	sp, canStream := o.deps.Provider.(domain.StreamingCompletionProvider)
	if !canStream {
		resp, err := o.deps.Provider.Chat(ctx, req)
		if err != nil {
			return domain.Message{}, domain.Usage{}, "", err
		}
		return resp.Message, resp.Usage, resp.FinishReason, nil
	}

	req.Stream = true
	deltaCh, err := sp.ChatStream(ctx, req)
	if err != nil {
		return domain.Message{}, domain.Usage{}, "", err
	}

	acc := newStreamAccumulator()
	received := 0
	for delta := range deltaCh {
		if delta.Err != nil {
			err := domain.NewDomainError("Orchestrator.completeTurn",
				domain.ErrStreamTransport, delta.Err.Error())
			return domain.Message{}, domain.Usage{}, "", err
		}
		received++
		acc.add(delta)
		o.publish(ctx, sessionID, domain.EventStreamDelta, domain.StreamDeltaPayload{
			Content:   delta.Content,
			ToolCalls: delta.ToolCalls,
			Done:      delta.Done,
			Turn:      turn,
		})
	}

	if received == 0 {
		// A stream that closes without producing a single delta is a
		// transport failure, not an empty answer.
		err := domain.NewDomainError("Orchestrator.completeTurn",
			domain.ErrStreamTransport, "stream closed without deltas")
		return domain.Message{}, domain.Usage{}, "", err
	}

	msg, usage, finishReason := acc.build()
	if finishReason == "" && len(msg.ToolCalls) == 0 {
		// A turn that ends without a finish reason was cut off in transit;
		// returning the partial content would silently truncate the answer.
		err := domain.NewDomainError("Orchestrator.completeTurn",
			domain.ErrStreamTransport, "stream ended without a finish reason")
		return domain.Message{}, domain.Usage{}, "", err
	}
	return msg, usage, finishReason, nil
}

// applyMissingNamePolicy handles streamed tool calls that never received a
// name. Skip drops the call before the turn is appended, preserving the
// history invariant; error terminates the run as a protocol violation.
func (o *Orchestrator) applyMissingNamePolicy(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	kept := msg.ToolCalls[:0:0]
	for _, tc := range msg.ToolCalls {
		if tc.Name != "" {
			kept = append(kept, tc)
			continue
		}
		if o.deps.MissingToolName == MissingToolNameError {
			err := domain.NewDomainError("Orchestrator.Run",
				domain.ErrProtocolViolation, "tool call without a name")
			o.publishError(ctx, sessionID, err)
			return domain.Message{}, err
		}
		o.deps.Logger.Warn("dropping tool call without a name", "call_id", tc.ID)
	}
	msg.ToolCalls = kept
	return msg, nil
}

func (o *Orchestrator) publish(ctx context.Context, sessionID string, kind domain.EventKind, payload any) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(ctx, domain.NewEvent(kind, "orchestrator", sessionID, payload))
}

func (o *Orchestrator) publishError(ctx context.Context, sessionID string, err error) {
	o.publish(ctx, sessionID, domain.EventError, domain.ErrorPayload{
		Error: err.Error(),
		Code:  domain.ErrorCodeOf(err),
	})
}

// maxStreamedToolCalls bounds the tool-call slots the accumulator allocates.
// Fragments with indices beyond the bound are dropped so a malformed stream
// cannot exhaust memory.
const maxStreamedToolCalls = 50

// streamAccumulator merges incremental deltas into one assistant message.
// Tool-call fragments are merged by index: the first fragment for an index
// carries the id and name, later fragments append argument bytes.
type streamAccumulator struct {
	content      strings.Builder
	toolCalls    []domain.ToolCall
	usage        domain.Usage
	finishReason string
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (acc *streamAccumulator) add(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for _, tc := range delta.ToolCalls {
		if tc.Index < 0 || tc.Index >= maxStreamedToolCalls {
			continue
		}
		for len(acc.toolCalls) <= tc.Index {
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{Index: len(acc.toolCalls)})
		}

		existing := &acc.toolCalls[tc.Index]
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		if len(tc.Arguments) > 0 {
			existing.Arguments = append(existing.Arguments, tc.Arguments...)
		}
	}

	if delta.FinishReason != "" {
		acc.finishReason = delta.FinishReason
	}
	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

func (acc *streamAccumulator) build() (domain.Message, domain.Usage, string) {
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: acc.toolCalls,
		Timestamp: time.Now(),
	}
	return msg, acc.usage, acc.finishReason
}
