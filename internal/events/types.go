package events

import (
	"context"
	"time"
)

// EventType identifies the type of event
type EventType string

// Chat turn events
const (
	TurnStarted     EventType = "turn.started"
	ContextBuilt    EventType = "turn.context.built"
	WindowBuilt     EventType = "turn.window.built"
	StreamDelta     EventType = "turn.stream.delta"
	TurnCompleted   EventType = "turn.completed"
	TurnFailed      EventType = "turn.failed"
	TurnCancelled   EventType = "turn.cancelled"
	ToolCallUpdated EventType = "tool.call.updated"
	BudgetWarning   EventType = "budget.warning"
	RateLimited     EventType = "provider.rate_limited"
)

// Event is one published occurrence
type Event[T any] struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Payload   T              `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
}

// Publisher defines the interface for publishing events
type Publisher[T any] interface {
	Publish(eventType EventType, payload T, opts ...PublishOption)
}

// Subscriber defines the interface for subscribing to events
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, filter ...EventFilter) <-chan Event[T]
}

// EventFilter selects events by their envelope
type EventFilter func(eventType EventType, sessionID string) bool

// PublishOption defines options for publishing events
type PublishOption func(*PublishOptions)

// PublishOptions contains options for publishing events
type PublishOptions struct {
	SessionID string
	Metadata  map[string]any
}

// WithSessionID sets the session ID for the event
func WithSessionID(sessionID string) PublishOption {
	return func(opts *PublishOptions) {
		opts.SessionID = sessionID
	}
}

// WithMetadata sets metadata for the event
func WithMetadata(metadata map[string]any) PublishOption {
	return func(opts *PublishOptions) {
		opts.Metadata = metadata
	}
}

// FilterByType creates a filter for specific event types
func FilterByType(eventTypes ...EventType) EventFilter {
	typeMap := make(map[EventType]bool)
	for _, t := range eventTypes {
		typeMap[t] = true
	}
	return func(eventType EventType, _ string) bool {
		return typeMap[eventType]
	}
}

// FilterBySessionID creates a filter for specific session ID
func FilterBySessionID(sessionID string) EventFilter {
	return func(_ EventType, id string) bool {
		return id == sessionID
	}
}
