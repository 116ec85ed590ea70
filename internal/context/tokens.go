package context

import (
	"unicode/utf8"
)

// Message roles understood by the window builder
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage represents a message in a conversation
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EstimateTokens approximates the token count of text at four characters per token, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// textLength returns the length of s in characters
func textLength(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateText returns at most n characters of s, cutting on a rune boundary
func truncateText(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for idx := range s {
		if count == n {
			return s[:idx]
		}
		count++
	}
	return s
}

// normalizeRole maps anything that is not a user message to the assistant role
func normalizeRole(role string) string {
	if role == RoleUser {
		return RoleUser
	}
	return RoleAssistant
}
