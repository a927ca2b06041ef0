package usecase

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"devagent/internal/domain"
)

// Session holds the ordered conversation history for one run. It lives for
// the process lifetime only; there is no persistence.
//
// The history invariant: an assistant message that requests tool calls must
// be followed by exactly one tool message per call, in the order the calls
// were issued, before the next assistant turn.
type Session struct {
	mu        sync.RWMutex
	ID        string
	msgs      []domain.Message
	pending   []domain.ToolCall // calls awaiting results from the last assistant turn
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates an empty session with a generated ULID.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        generateULID(now),
		msgs:      make([]domain.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// AppendSystem adds a system prompt message.
func (s *Session) AppendSystem(content string) {
	s.append(domain.Message{Role: domain.RoleSystem, Content: content})
}

// AppendUser adds a user message.
func (s *Session) AppendUser(content string) {
	s.append(domain.Message{Role: domain.RoleUser, Content: content})
}

// AppendAssistant adds an assistant turn and records its tool calls as
// pending. A message with neither content nor tool calls violates the
// conversation protocol and is rejected without mutating history.
func (s *Session) AppendAssistant(msg domain.Message) error {
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return domain.NewDomainError("Session.AppendAssistant",
			domain.ErrProtocolViolation, "assistant message with neither content nor tool calls")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Role = domain.RoleAssistant
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.msgs = append(s.msgs, msg)
	s.pending = append([]domain.ToolCall(nil), msg.ToolCalls...)
	s.UpdatedAt = time.Now()
	return nil
}

// AppendToolResults appends exactly one tool message per pending call, in
// the order the calls were issued. Any mismatch in count or order violates
// the history invariant and leaves the session untouched.
func (s *Session) AppendToolResults(results []domain.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(results) != len(s.pending) {
		return domain.NewDomainError("Session.AppendToolResults", domain.ErrProtocolViolation,
			fmt.Sprintf("expected %d results, got %d", len(s.pending), len(results)))
	}
	for i, res := range results {
		if res.ToolCallID != s.pending[i].ID {
			return domain.NewDomainError("Session.AppendToolResults", domain.ErrProtocolViolation,
				fmt.Sprintf("result %d answers call %q, expected %q", i, res.ToolCallID, s.pending[i].ID))
		}
	}

	now := time.Now()
	for i, res := range results {
		s.msgs = append(s.msgs, domain.Message{
			Role:       domain.RoleTool,
			Name:       s.pending[i].Name,
			ToolCallID: res.ToolCallID,
			Content:    res.Content,
			Timestamp:  now,
		})
	}
	s.pending = nil
	s.UpdatedAt = now
	return nil
}

// PendingToolCalls returns a copy of the calls still awaiting results.
func (s *Session) PendingToolCalls() []domain.ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ToolCall(nil), s.pending...)
}

// Messages returns a snapshot of the message history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.msgs))
	copy(cp, s.msgs)
	return cp
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *Session) append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.msgs = append(s.msgs, msg)
	s.UpdatedAt = time.Now()
}
