package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process. It is used when no database is configured
// and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	values        map[string]string
	conversations map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:        make(map[string]string),
		conversations: make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// SaveConversation stores a copy so later mutations by the caller are not visible
func (m *MemoryStore) SaveConversation(_ context.Context, conv *Conversation) error {
	conv.trim()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = data
	m.evictLocked()
	return nil
}

func (m *MemoryStore) LoadConversations(_ context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) sortedLocked() ([]*Conversation, error) {
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, data := range m.conversations {
		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		convs = append(convs, &conv)
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	return convs, nil
}

func (m *MemoryStore) evictLocked() {
	if len(m.conversations) <= MaxConversations {
		return
	}
	convs, err := m.sortedLocked()
	if err != nil {
		return
	}
	for _, conv := range convs[MaxConversations:] {
		delete(m.conversations, conv.ID)
	}
}
