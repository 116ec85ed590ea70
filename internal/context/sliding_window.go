package context

import (
	"github.com/charmbracelet/log"
)

const (
	// Last-resort rendering limit when no history budget is left
	degradedMaxChars = 2000
	// Recent user messages within this distance from the end may be half-included
	recentUserWindow = 4
	// Floor for the forced last message when the walk admitted nothing. Below 50
	// available tokens this floor is the only overshoot besides half-inclusion.
	minForcedChars = 200

	degradedMarker  = "\n[...truncated due to token limit]"
	truncatedMarker = "\n[...truncated]"
)

// WindowInput describes the history and the token costs already committed for a request
type WindowInput struct {
	Messages             []ConversationMessage
	SystemPromptTokens   int
	CurrentMessageTokens int
	ContextTokens        int
	ModelMaxTokens       int
}

// WindowResult represents the result of applying the sliding window
type WindowResult struct {
	Messages        []ConversationMessage `json:"messages"`
	Summarized      bool                  `json:"summarized"`
	HistoryTokens   int                   `json:"history_tokens"`
	AvailableTokens int                   `json:"available_tokens"`
	ExcludedCount   int                   `json:"excluded_count"`
}

// HistoryBudget returns the tokens left for history once the fixed parts and the response buffer are reserved
func HistoryBudget(modelMaxTokens, systemPromptTokens, currentMessageTokens, contextTokens int) int {
	return modelMaxTokens - systemPromptTokens - currentMessageTokens - ComputeResponseBuffer(modelMaxTokens) - contextTokens
}

// BuildMessageWindow fits as much recent history as possible into the remaining budget.
//
// History is walked from newest to oldest. A user message among the four most recent that
// would overflow is still included at half its estimated cost and rendered at half its length;
// this is a heuristic that keeps the user's latest intent visible. When older messages are cut,
// a leading assistant message summarizes what was left out.
func BuildMessageWindow(input WindowInput) WindowResult {
	msgs := input.Messages
	available := HistoryBudget(input.ModelMaxTokens, input.SystemPromptTokens, input.CurrentMessageTokens, input.ContextTokens)
	result := WindowResult{AvailableTokens: available}

	if len(msgs) == 0 {
		result.Messages = []ConversationMessage{}
		return result
	}

	if available <= 0 {
		return degradedWindow(msgs, available)
	}

	used := 0
	start := len(msgs)
	halved := make(map[int]bool)

	for i := len(msgs) - 1; i >= 0; i-- {
		cost := EstimateTokens(msgs[i].Content)
		if used+cost > available {
			recentUser := msgs[i].Role == RoleUser && len(msgs)-i <= recentUserWindow
			if recentUser && used+cost/2 <= available {
				start = i
				used += cost / 2
				halved[i] = true
				continue
			}
			start = i + 1
			break
		}
		used += cost
		start = i
	}

	// Nothing was cut
	if start == 0 {
		result.Messages = renderWindow(msgs, 0, halved)
		result.HistoryTokens = used
		return result
	}

	excluded := msgs[:start]
	var included []ConversationMessage
	if start < len(msgs) {
		included = renderWindow(msgs, start, halved)
	} else {
		// The walk admitted nothing; keep the last message so the window is never empty
		last := msgs[len(msgs)-1]
		limit := max(available*4, minForcedChars)
		content := last.Content
		if textLength(content) > limit {
			// the marker counts against the limit
			content = truncateText(content, limit-textLength(truncatedMarker)) + truncatedMarker
		}
		included = []ConversationMessage{{Role: normalizeRole(last.Role), Content: content}}
		used = EstimateTokens(content)
		excluded = msgs[:len(msgs)-1]

		if len(excluded) == 0 {
			result.Messages = included
			result.Summarized = true
			result.HistoryTokens = used
			return result
		}
	}

	summary := SummarizeExcluded(excluded)

	result.Messages = append([]ConversationMessage{{Role: RoleAssistant, Content: summary}}, included...)
	result.Summarized = true
	result.HistoryTokens = used
	result.ExcludedCount = len(excluded)

	log.Debug("Message window summarized",
		"excluded", len(excluded), "included", len(included),
		"history_tokens", used, "available", available)

	return result
}

// degradedWindow keeps only the most recent message, truncated, when no budget is left
func degradedWindow(msgs []ConversationMessage, available int) WindowResult {
	last := msgs[len(msgs)-1]
	content := last.Content
	if textLength(content) > degradedMaxChars {
		content = truncateText(content, degradedMaxChars) + degradedMarker
	}

	log.Warn("No token budget left for history, sending only the last message", "available", available)

	return WindowResult{
		Messages:        []ConversationMessage{{Role: normalizeRole(last.Role), Content: content}},
		HistoryTokens:   EstimateTokens(content),
		AvailableTokens: available,
		ExcludedCount:   len(msgs) - 1,
	}
}

// renderWindow copies msgs[start:], halving the content of half-included messages
func renderWindow(msgs []ConversationMessage, start int, halved map[int]bool) []ConversationMessage {
	out := make([]ConversationMessage, 0, len(msgs)-start)
	for i := start; i < len(msgs); i++ {
		content := msgs[i].Content
		if halved[i] {
			content = truncateText(content, textLength(content)/2) + truncatedMarker
		}
		out = append(out, ConversationMessage{Role: normalizeRole(msgs[i].Role), Content: content})
	}
	return out
}
