package llm

import (
	"time"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/google/uuid"
)

// Conversation roles
const (
	RoleUser      = contextmgmt.RoleUser
	RoleAssistant = contextmgmt.RoleAssistant
)

// Message represents one entry of a conversation. Content is only rewritten in place while a
// streamed reply is still arriving.
type Message struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ModelInfo *ModelInfo `json:"model_info,omitempty"`
	TokenInfo *TokenInfo `json:"token_info,omitempty"`
}

// NewMessage creates a message with a fresh id and the current time
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ModelInfo records which model produced an assistant message
type ModelInfo struct {
	ModelName    string `json:"model_name"`
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`
}

// ModelCost holds per 1k token pricing
type ModelCost struct {
	InputCostPer1K  float64 `json:"input_cost_per_1k" toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" toml:"output_cost_per_1k"`
}

// TokenInfo carries usage and cost of a single reply
type TokenInfo struct {
	InputTokens         int      `json:"input_tokens,omitempty"`
	OutputTokens        int      `json:"output_tokens,omitempty"`
	TotalTokens         int      `json:"total_tokens"`
	Cost                *float64 `json:"cost,omitempty"`
	CacheCreationTokens int      `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int      `json:"cache_read_tokens,omitempty"`
	CacheSavings        *float64 `json:"cache_savings,omitempty"`
}

// CostOrZero returns the computed cost, or 0 when pricing was unknown
func (t *TokenInfo) CostOrZero() float64 {
	if t == nil || t.Cost == nil {
		return 0
	}
	return *t.Cost
}

// ComputeTokenInfo derives usage and cost for a reply. It returns nil when the provider
// reported no usage at all. Cost is only set when both prices are known; cache savings
// follow prompt caching pricing where reads are 90% cheaper and writes 25% dearer.
func ComputeTokenInfo(inputTokens, outputTokens, tokensUsed int, cost *ModelCost, cacheCreationTokens, cacheReadTokens int) *TokenInfo {
	if inputTokens == 0 && outputTokens == 0 && tokensUsed == 0 {
		return nil
	}

	info := &TokenInfo{
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		TotalTokens:         tokensUsed,
		CacheCreationTokens: cacheCreationTokens,
		CacheReadTokens:     cacheReadTokens,
	}
	if info.TotalTokens == 0 {
		info.TotalTokens = inputTokens + outputTokens
	}

	if cost != nil && cost.InputCostPer1K > 0 && cost.OutputCostPer1K > 0 {
		c := float64(inputTokens)/1000*cost.InputCostPer1K + float64(outputTokens)/1000*cost.OutputCostPer1K
		info.Cost = &c
	}

	if cost != nil && cost.InputCostPer1K > 0 && (cacheCreationTokens > 0 || cacheReadTokens > 0) {
		readDiscount := float64(cacheReadTokens) / 1000 * cost.InputCostPer1K * 0.9
		creationSurcharge := float64(cacheCreationTokens) / 1000 * cost.InputCostPer1K * 0.25
		savings := readDiscount - creationSurcharge
		info.CacheSavings = &savings
	}

	return info
}

// ToConversation strips messages down to what the window builder needs
func ToConversation(messages []Message) []contextmgmt.ConversationMessage {
	out := make([]contextmgmt.ConversationMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, contextmgmt.ConversationMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
