package usecase

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"devagent/internal/domain"
)

// perMessageOverhead approximates the framing tokens each chat message costs
// on top of its content.
const perMessageOverhead = 4

// TokenCounter estimates token usage with a local BPE tokenizer, for when
// the transport reports no usage counters.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model, falling back to the
// cl100k_base encoding for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tokenizer encoding: %w", err)
		}
	}
	return &TokenCounter{enc: enc}, nil
}

// Count returns the token count of a single text.
func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages estimates the prompt token cost of a message history,
// including tool call names and arguments.
func (c *TokenCounter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += c.Count(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Name)
			total += c.Count(string(tc.Arguments))
		}
	}
	return total
}
