package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultStreamBuffer = 64

// StreamEvent is one incremental piece of a streamed reply. The final event has Done set
// and carries usage and any native tool calls.
type StreamEvent struct {
	ContentDelta        string           `json:"content_delta,omitempty"`
	Done                bool             `json:"done"`
	ToolCalls           []NativeToolCall `json:"tool_calls,omitempty"`
	InputTokens         int              `json:"input_tokens,omitempty"`
	OutputTokens        int              `json:"output_tokens,omitempty"`
	CacheCreationTokens int              `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int              `json:"cache_read_tokens,omitempty"`
	Err                 error            `json:"-"`
}

// Subscription delivers stream events until completion or cancellation.
// The producer sends and closes; the consumer reads and cancels.
type Subscription struct {
	events chan StreamEvent
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewSubscription creates a subscription whose context is derived from parent
func NewSubscription(parent context.Context) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		events: make(chan StreamEvent, defaultStreamBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the event channel. It is closed by the producer.
func (s *Subscription) Events() <-chan StreamEvent {
	return s.events
}

// Context is done once the subscription is cancelled; producers pass it to the provider SDK
func (s *Subscription) Context() context.Context {
	return s.ctx
}

// Send delivers an event, returning false if the subscriber has cancelled
func (s *Subscription) Send(event StreamEvent) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.events <- event:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close ends the stream. Only the producer calls it, exactly once.
func (s *Subscription) Close() {
	close(s.events)
}

// Cancel unsubscribes; it is safe to call any number of times
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Cancelled reports whether Cancel was called or the parent context ended
func (s *Subscription) Cancelled() bool {
	return s.ctx.Err() != nil
}

// StreamCollector aggregates stream events into a response
type StreamCollector struct {
	content   strings.Builder
	response  Response
	StartTime time.Time
	EndTime   time.Time
}

// NewStreamCollector creates a new stream collector
func NewStreamCollector() *StreamCollector {
	return &StreamCollector{StartTime: time.Now()}
}

// Collect folds one event into the collector, reporting whether the stream is complete
func (sc *StreamCollector) Collect(event StreamEvent) bool {
	sc.content.WriteString(event.ContentDelta)
	sc.response.ToolCalls = append(sc.response.ToolCalls, event.ToolCalls...)
	if event.InputTokens > 0 {
		sc.response.InputTokens = event.InputTokens
	}
	if event.OutputTokens > 0 {
		sc.response.OutputTokens = event.OutputTokens
	}
	if event.CacheCreationTokens > 0 {
		sc.response.CacheCreationTokens = event.CacheCreationTokens
	}
	if event.CacheReadTokens > 0 {
		sc.response.CacheReadTokens = event.CacheReadTokens
	}
	if event.Done {
		sc.EndTime = time.Now()
	}
	return event.Done
}

// Text returns the text accumulated so far
func (sc *StreamCollector) Text() string {
	return sc.content.String()
}

// Response returns the aggregated response
func (sc *StreamCollector) Response() *Response {
	resp := sc.response
	resp.Content = sc.content.String()
	resp.TokensUsed = resp.InputTokens + resp.OutputTokens
	return &resp
}

// Duration returns how long the stream has been running
func (sc *StreamCollector) Duration() time.Duration {
	if sc.EndTime.IsZero() {
		return time.Since(sc.StartTime)
	}
	return sc.EndTime.Sub(sc.StartTime)
}

// CollectStream reads a subscription to completion, calling onDelta for every text delta.
// The subscription is cancelled on every return path. A cancelled or truncated stream
// returns an error and never a partial response.
func CollectStream(ctx context.Context, sub *Subscription, onDelta func(string)) (*Response, error) {
	defer sub.Cancel()

	collector := NewStreamCollector()
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				if sub.Cancelled() {
					return nil, ErrCancelled
				}
				return nil, ErrStreamIncomplete
			}
			if event.Err != nil {
				return nil, event.Err
			}
			if event.ContentDelta != "" && onDelta != nil {
				onDelta(event.ContentDelta)
			}
			if collector.Collect(event) {
				return collector.Response(), nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-sub.Context().Done():
			return nil, ErrCancelled
		}
	}
}
