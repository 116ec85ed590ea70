package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	defaultBufferSize = 64
	defaultMaxEvents  = 1000
)

// Broker implements a generic publish-subscribe broker with type safety.
// Publishing never blocks; a full subscriber misses the event.
type Broker[T any] struct {
	subs         map[chan Event[T]]SubscriberInfo
	mu           sync.RWMutex
	done         chan struct{}
	maxEvents    int
	bufferSize   int
	eventHistory []Event[T]
	historyMu    sync.RWMutex
	now          func() time.Time
}

// SubscriberInfo contains metadata about a subscriber
type SubscriberInfo struct {
	ID      string
	Filters []EventFilter
	Created time.Time
}

// NewBroker creates a new broker with default settings
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithOptions[T](defaultBufferSize, defaultMaxEvents)
}

// NewBrokerWithOptions creates a new broker with custom settings
func NewBrokerWithOptions[T any](channelBufferSize, maxEvents int) *Broker[T] {
	return &Broker[T]{
		subs:         make(map[chan Event[T]]SubscriberInfo),
		done:         make(chan struct{}),
		maxEvents:    maxEvents,
		bufferSize:   channelBufferSize,
		eventHistory: make([]Event[T], 0, maxEvents),
		now:          time.Now,
	}
}

// Publish publishes an event to all subscribers
func (b *Broker[T]) Publish(eventType EventType, payload T, opts ...PublishOption) {
	if b.isShutdown() {
		return
	}

	options := &PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}

	event := Event[T]{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.now(),
		SessionID: options.SessionID,
		Metadata:  options.Metadata,
	}

	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, info := range b.subs {
		if !matches(event, info.Filters) {
			continue
		}
		select {
		case ch <- event:
		default:
			log.Warn("Event channel full, dropping event", "subscriber", info.ID, "type", event.Type)
		}
	}
}

// Subscribe creates a subscription that ends when ctx is done
func (b *Broker[T]) Subscribe(ctx context.Context, filters ...EventFilter) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.bufferSize)
	if b.isShutdown() {
		close(ch)
		return ch
	}

	b.subs[ch] = SubscriberInfo{
		ID:      uuid.New().String(),
		Filters: filters,
		Created: b.now(),
	}

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
		case <-b.done:
		}
	}()

	return ch
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[ch]; exists {
		delete(b.subs, ch)
		close(ch)
	}
}

func matches[T any](event Event[T], filters []EventFilter) bool {
	for _, filter := range filters {
		if !filter(event.Type, event.SessionID) {
			return false
		}
	}
	return true
}

func (b *Broker[T]) addToHistory(event Event[T]) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.eventHistory = append(b.eventHistory, event)
	if len(b.eventHistory) > b.maxEvents {
		copy(b.eventHistory, b.eventHistory[len(b.eventHistory)-b.maxEvents:])
		b.eventHistory = b.eventHistory[:b.maxEvents]
	}
}

// GetHistory returns recent events matching the given filters, oldest first
func (b *Broker[T]) GetHistory(filters ...EventFilter) []Event[T] {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	result := make([]Event[T], 0, len(b.eventHistory))
	for _, event := range b.eventHistory {
		if matches(event, filters) {
			result = append(result, event)
		}
	}
	return result
}

// BrokerStats contains broker statistics
type BrokerStats struct {
	SubscriberCount int  `json:"subscriber_count"`
	EventHistory    int  `json:"event_history"`
	MaxEvents       int  `json:"max_events"`
	BufferSize      int  `json:"buffer_size"`
	IsShutdown      bool `json:"is_shutdown"`
}

// GetStats returns broker statistics
func (b *Broker[T]) GetStats() BrokerStats {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()

	b.historyMu.RLock()
	historyCount := len(b.eventHistory)
	b.historyMu.RUnlock()

	return BrokerStats{
		SubscriberCount: subs,
		EventHistory:    historyCount,
		MaxEvents:       b.maxEvents,
		BufferSize:      b.bufferSize,
		IsShutdown:      b.isShutdown(),
	}
}

func (b *Broker[T]) isShutdown() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Shutdown closes every subscription. Later publishes are ignored.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown() {
		return
	}
	close(b.done)

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	log.Debug("Event broker shut down")
}

// String returns a string representation of the broker
func (b *Broker[T]) String() string {
	stats := b.GetStats()
	return fmt.Sprintf("Broker[subscribers=%d, history=%d, shutdown=%v]",
		stats.SubscriberCount, stats.EventHistory, stats.IsShutdown)
}
