package storage

import (
	"context"
	"errors"
	"time"

	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const (
	// MaxConversations is the number of conversations kept, most recently updated first
	MaxConversations = 50
	// MaxMessagesPerConversation is the number of trailing messages kept per conversation
	MaxMessagesPerConversation = 200

	titleLength  = 60
	defaultTitle = "New Chat"
)

var (
	// ErrNotFound is returned when a key, conversation or branch does not exist
	ErrNotFound = errors.New("not found")
)

// KVStore is the secure key/value store used for settings, budgets and spending records
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// ConversationStore persists conversations together with their branches
type ConversationStore interface {
	SaveConversation(ctx context.Context, conv *Conversation) error
	LoadConversations(ctx context.Context) ([]*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Conversation is a persisted chat with optional branches
type Conversation struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Messages       []llm.Message `json:"messages"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	TotalTokens    int           `json:"total_tokens"`
	TotalCost      float64       `json:"total_cost"`
	Branches       []Branch      `json:"branches,omitempty"`
	ActiveBranchID string        `json:"active_branch_id,omitempty"`
}

// Branch is an alternative continuation forked from a message of the main conversation
type Branch struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	ForkedFrom string        `json:"forked_from"`
	Messages   []llm.Message `json:"messages"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ConversationSummary is the lightweight listing view of a conversation
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	BranchCount  int       `json:"branch_count"`
	TotalTokens  int       `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
}
