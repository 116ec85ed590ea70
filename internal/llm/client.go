package llm

import (
	"context"
	"errors"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
)

var (
	// ErrCancelled is returned when a streamed turn was cancelled before completion
	ErrCancelled = errors.New("request cancelled")
	// ErrStreamIncomplete is returned when a stream ends without a completion signal
	ErrStreamIncomplete = errors.New("stream ended before completion")
)

// ToolSpec describes a tool to providers that support native tool calling
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NativeToolCall is a structured tool call returned by the provider itself
type NativeToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Request is one bounded model request assembled for a turn
type Request struct {
	Model        string                            `json:"model"`
	SystemPrompt string                            `json:"system_prompt"`
	Messages     []contextmgmt.ConversationMessage `json:"messages"`
	MaxTokens    int                               `json:"max_tokens,omitempty"`
	Temperature  *float64                          `json:"temperature,omitempty"`
	Tools        []ToolSpec                        `json:"tools,omitempty"`
}

// Response is the result of a single shot completion
type Response struct {
	Content             string           `json:"content"`
	Model               string           `json:"model,omitempty"`
	TokensUsed          int              `json:"tokens_used,omitempty"`
	InputTokens         int              `json:"input_tokens,omitempty"`
	OutputTokens        int              `json:"output_tokens,omitempty"`
	CacheCreationTokens int              `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int              `json:"cache_read_tokens,omitempty"`
	ToolCalls           []NativeToolCall `json:"tool_calls,omitempty"`
}

// Client is the contract every model provider satisfies
type Client interface {
	// Provider returns the provider id used for rate limiting and spend tracking
	Provider() string

	// Complete sends the request and waits for the whole reply
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends the request and delivers the reply incrementally
	Stream(ctx context.Context, req Request) (*Subscription, error)
}
