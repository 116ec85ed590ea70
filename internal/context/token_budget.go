package context

import (
	"math"
)

// BudgetMode describes how much room a model leaves for ambient context
type BudgetMode string

const (
	BudgetModeFull    BudgetMode = "full"
	BudgetModeCompact BudgetMode = "compact"
	BudgetModeMinimal BudgetMode = "minimal"
)

const (
	minResponseBuffer = 512
	maxResponseBuffer = 2048
	responseShare     = 0.15

	fullModeThreshold    = 32000
	compactModeThreshold = 8000
)

// TokenBudgetBreakdown splits a model's context window across the parts of a request
type TokenBudgetBreakdown struct {
	ModelMaxTokens       int        `json:"model_max_tokens"`
	SystemPromptTokens   int        `json:"system_prompt_tokens"`
	ContextTokens        int        `json:"context_tokens"`
	HistoryTokens        int        `json:"history_tokens"`
	CurrentMessageTokens int        `json:"current_message_tokens"`
	ResponseBuffer       int        `json:"response_buffer"`
	AvailableTokens      int        `json:"available_tokens"`
	UsagePercent         int        `json:"usage_percent"`
	Mode                 BudgetMode `json:"mode"`
}

// UsedTokens returns the tokens consumed by the fixed parts and the response reserve
func (b TokenBudgetBreakdown) UsedTokens() int {
	return b.SystemPromptTokens + b.ContextTokens + b.HistoryTokens + b.CurrentMessageTokens + b.ResponseBuffer
}

// DetermineBudgetMode picks a budget mode from the model's capacity
func DetermineBudgetMode(modelMaxTokens int) BudgetMode {
	switch {
	case modelMaxTokens >= fullModeThreshold:
		return BudgetModeFull
	case modelMaxTokens >= compactModeThreshold:
		return BudgetModeCompact
	default:
		return BudgetModeMinimal
	}
}

// ComputeResponseBuffer reserves 15% of the window for the reply, clamped to [512, 2048]
func ComputeResponseBuffer(modelMaxTokens int) int {
	buffer := int(math.Round(float64(modelMaxTokens) * responseShare))
	if buffer < minResponseBuffer {
		return minResponseBuffer
	}
	if buffer > maxResponseBuffer {
		return maxResponseBuffer
	}
	return buffer
}

// ComputeTokenBudget computes the token budget breakdown for the current request.
// A non-positive model limit cannot be budgeted and degrades to minimal mode at 100% usage.
func ComputeTokenBudget(modelMaxTokens, systemPromptTokens, contextTokens, historyTokens, currentMessageTokens int) TokenBudgetBreakdown {
	breakdown := TokenBudgetBreakdown{
		SystemPromptTokens:   systemPromptTokens,
		ContextTokens:        contextTokens,
		HistoryTokens:        historyTokens,
		CurrentMessageTokens: currentMessageTokens,
	}

	if modelMaxTokens <= 0 {
		breakdown.UsagePercent = 100
		breakdown.Mode = BudgetModeMinimal
		return breakdown
	}

	breakdown.ModelMaxTokens = modelMaxTokens
	breakdown.ResponseBuffer = ComputeResponseBuffer(modelMaxTokens)

	used := breakdown.UsedTokens()
	breakdown.AvailableTokens = max(0, modelMaxTokens-used)

	percent := int(math.Round(float64(used) / float64(modelMaxTokens) * 100))
	breakdown.UsagePercent = min(100, max(0, percent))
	breakdown.Mode = DetermineBudgetMode(modelMaxTokens)

	return breakdown
}
