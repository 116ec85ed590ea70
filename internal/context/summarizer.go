package context

import (
	"fmt"
	"strings"
)

const (
	maxSummaryTopics  = 3
	summaryPreviewLen = 80
)

// SummarizeExcluded builds the placeholder text standing in for history cut from the window.
// It lists how many user and assistant messages were dropped and previews the latest user requests.
func SummarizeExcluded(excluded []ConversationMessage) string {
	var userRequests []ConversationMessage
	assistantCount := 0
	for _, msg := range excluded {
		if msg.Role == RoleUser {
			userRequests = append(userRequests, msg)
		} else if msg.Role == RoleAssistant {
			assistantCount++
		}
	}

	parts := []string{
		fmt.Sprintf("Earlier conversation (%d user + %d assistant messages)", len(userRequests), assistantCount),
	}

	if len(userRequests) > 0 {
		parts = append(parts, "Key topics discussed:")
		if len(userRequests) > maxSummaryTopics {
			userRequests = userRequests[len(userRequests)-maxSummaryTopics:]
		}
		for _, msg := range userRequests {
			parts = append(parts, "- "+previewText(msg.Content, summaryPreviewLen))
		}
	}

	return strings.Join(parts, "\n")
}

// previewText shortens s to n characters, marking the cut with an ellipsis
func previewText(s string, n int) string {
	if textLength(s) <= n {
		return s
	}
	return truncateText(s, n) + "..."
}
