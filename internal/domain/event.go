package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind identifies the kind of event being published.
type EventKind string

const (
	EventStreamStart      EventKind = "stream.start"
	EventStreamDelta      EventKind = "stream.delta"
	EventStreamComplete   EventKind = "stream.complete"
	EventStreamError      EventKind = "stream.error"
	EventToolCallRequest  EventKind = "tool.call.request"
	EventToolCallResponse EventKind = "tool.call.response"
	EventToolResult       EventKind = "tool.result"
	EventTokenCount       EventKind = "token.count"
	EventError            EventKind = "error"
	EventProviderSwitched EventKind = "provider.switched"
	EventChatCompressed   EventKind = "chat.compressed"
)

// Event is the envelope published on the event bus.
// Events are immutable once published; subscribers must not mutate them.
type Event struct {
	Kind      EventKind         `json:"kind"`
	Source    string            `json:"source,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent builds an event with the payload JSON-marshaled in place.
// A payload that fails to marshal is published as an empty payload; the
// event itself is never lost to a serialization problem.
func NewEvent(kind EventKind, source, sessionID string, payload any) Event {
	ev := Event{
		Kind:      kind,
		Source:    source,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for runtime events.
// Publish never blocks: a subscriber whose queue is full loses the event
// (for that subscriber only) rather than stalling the producer.
type EventBus interface {
	// Publish offers an event to every matching subscription, non-blocking.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for the given kinds (nil or empty = all).
	// queueSize bounds the per-subscriber delivery queue; zero or negative
	// selects the bus default. Returns the subscription id.
	Subscribe(kinds []EventKind, handler EventHandler, queueSize int) string
	// Unsubscribe stops delivery for the subscription and drains its queue.
	Unsubscribe(id string)
	// History returns a filtered, order-preserving snapshot of retained
	// events. kinds nil = all kinds; limit > 0 keeps only the newest entries.
	History(kinds []EventKind, limit int) []Event
	// Shutdown marks the bus inactive and stops every subscription.
	Shutdown()
}
