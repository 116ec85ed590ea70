package context

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role string, chars int, fill string) ConversationMessage {
	return ConversationMessage{Role: role, Content: strings.Repeat(fill, chars)}
}

func TestBuildMessageWindow_Empty(t *testing.T) {
	result := BuildMessageWindow(WindowInput{ModelMaxTokens: 8000})
	assert.Empty(t, result.Messages)
	assert.False(t, result.Summarized)
	assert.Zero(t, result.HistoryTokens)

	degraded := BuildMessageWindow(WindowInput{ModelMaxTokens: 0})
	assert.Empty(t, degraded.Messages)
	assert.False(t, degraded.Summarized)
}

func TestBuildMessageWindow_FitsVerbatim(t *testing.T) {
	history := []ConversationMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi, how can I help?"},
		{Role: RoleUser, Content: "list files"},
	}

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 100000})
	assert.False(t, result.Summarized)
	assert.Equal(t, history, result.Messages)
	assert.Equal(t, 2+5+3, result.HistoryTokens)
}

func TestBuildMessageWindow_Overflow(t *testing.T) {
	// 4000 max tokens leaves 3400 after the 600 token response buffer
	var history []ConversationMessage
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, msg(role, 2000, string(rune('a'+i))))
	}

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 4000})
	require.True(t, result.Summarized)
	assert.Equal(t, 3400, result.AvailableTokens)
	assert.Equal(t, 3000, result.HistoryTokens)
	assert.LessOrEqual(t, result.HistoryTokens, result.AvailableTokens)
	assert.Equal(t, 4, result.ExcludedCount)

	require.Len(t, result.Messages, 7)
	summary := result.Messages[0]
	assert.Equal(t, RoleAssistant, summary.Role)
	lines := strings.Split(summary.Content, "\n")
	assert.Equal(t, "Earlier conversation (2 user + 2 assistant messages)", lines[0])
	assert.Equal(t, "Key topics discussed:", lines[1])
	assert.Equal(t, "- "+strings.Repeat("a", 80)+"...", lines[2])
	assert.Equal(t, "- "+strings.Repeat("c", 80)+"...", lines[3])
	assert.Equal(t, history[4:], result.Messages[1:])
}

func TestBuildMessageWindow_SummaryKeepsLastThreeTopics(t *testing.T) {
	var history []ConversationMessage
	for i := 0; i < 8; i++ {
		history = append(history, msg(RoleUser, 400, string(rune('a'+i))))
	}
	// A final reply filling the whole budget pushes every earlier message out
	history = append(history, msg(RoleAssistant, 13600, "z"))

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 4000})
	require.True(t, result.Summarized)
	require.Len(t, result.Messages, 2)
	expected := strings.Join([]string{
		"Earlier conversation (8 user + 0 assistant messages)",
		"Key topics discussed:",
		"- " + strings.Repeat("f", 80) + "...",
		"- " + strings.Repeat("g", 80) + "...",
		"- " + strings.Repeat("h", 80) + "...",
	}, "\n")
	assert.Equal(t, expected, result.Messages[0].Content)
	assert.Equal(t, 3400, result.HistoryTokens)
}

func TestBuildMessageWindow_HalfIncludesRecentUser(t *testing.T) {
	history := []ConversationMessage{
		{Role: RoleUser, Content: "first question"},
		msg(RoleAssistant, 2000, "b"),  // 500 tokens
		msg(RoleUser, 2400, "u"),       // 600 tokens
		msg(RoleAssistant, 12000, "r"), // 3000 tokens
	}

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 4000})
	require.True(t, result.Summarized)
	assert.Equal(t, 3300, result.HistoryTokens)
	require.Len(t, result.Messages, 3)

	assert.Equal(t, "Earlier conversation (1 user + 1 assistant messages)\nKey topics discussed:\n- first question",
		result.Messages[0].Content)
	assert.Equal(t, strings.Repeat("u", 1200)+"\n[...truncated]", result.Messages[1].Content)
	assert.Equal(t, RoleUser, result.Messages[1].Role)
	assert.Equal(t, history[3], result.Messages[2])
}

func TestBuildMessageWindow_NoBudgetLeft(t *testing.T) {
	history := []ConversationMessage{
		{Role: RoleUser, Content: "older"},
		msg(RoleUser, 3000, "x"),
	}

	// 1000 - 600 - 512 is negative
	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 1000, SystemPromptTokens: 600})
	assert.False(t, result.Summarized)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, strings.Repeat("x", 2000)+"\n[...truncated due to token limit]", result.Messages[0].Content)
}

func TestBuildMessageWindow_ForcesLastMessage(t *testing.T) {
	history := []ConversationMessage{
		{Role: RoleUser, Content: "please summarize the log"},
		msg(RoleAssistant, 16000, "l"), // 4000 tokens, larger than the 3400 available
	}

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 4000})
	require.True(t, result.Summarized)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "Earlier conversation (1 user + 0 assistant messages)\nKey topics discussed:\n- please summarize the log",
		result.Messages[0].Content)
	assert.Equal(t, strings.Repeat("l", 13600-len(truncatedMarker))+"\n[...truncated]", result.Messages[1].Content)
	assert.Equal(t, 3400, result.AvailableTokens)
	assert.LessOrEqual(t, result.HistoryTokens, result.AvailableTokens)
}

func TestBuildMessageWindow_SingleOversizedMessage(t *testing.T) {
	history := []ConversationMessage{msg(RoleAssistant, 20000, "x")}

	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 4000})
	assert.True(t, result.Summarized)
	require.Len(t, result.Messages, 1)
	assert.Zero(t, result.ExcludedCount)
	assert.True(t, strings.HasSuffix(result.Messages[0].Content, truncatedMarker))
	assert.Equal(t, 3400, result.HistoryTokens)
	assert.LessOrEqual(t, result.HistoryTokens, result.AvailableTokens)
}

func TestBuildMessageWindow_NormalizesRoles(t *testing.T) {
	history := []ConversationMessage{{Role: "system", Content: "note"}}
	result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: 8000})
	require.Len(t, result.Messages, 1)
	assert.Equal(t, RoleAssistant, result.Messages[0].Role)
}

func TestBuildMessageWindow_AccountingBound(t *testing.T) {
	for _, maxTokens := range []int{3000, 4000, 6000, 9000} {
		var history []ConversationMessage
		for i := 0; i < 40; i++ {
			role := RoleUser
			if i%3 == 0 {
				role = RoleAssistant
			}
			history = append(history, msg(role, 300+i*97%1500, "m"))
		}

		result := BuildMessageWindow(WindowInput{Messages: history, ModelMaxTokens: maxTokens, SystemPromptTokens: 200})
		assert.NotEmpty(t, result.Messages)
		if result.AvailableTokens > 0 {
			assert.LessOrEqual(t, result.HistoryTokens, result.AvailableTokens, "max %d", maxTokens)
		}
	}
}
