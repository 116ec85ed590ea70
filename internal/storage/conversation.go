package storage

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

// NewConversation creates an empty conversation titled after its first message
func NewConversation(firstMessage string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "conv-" + uuid.NewString(),
		Title:     titleFrom(firstMessage),
		Messages:  []llm.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Summary returns the listing view of the conversation
func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		BranchCount:  len(c.Branches),
		TotalTokens:  c.TotalTokens,
		TotalCost:    c.TotalCost,
	}
}

// ActiveMessages returns the messages of the active branch, or of the main line
func (c *Conversation) ActiveMessages() []llm.Message {
	if b := c.branch(c.ActiveBranchID); b != nil {
		return b.Messages
	}
	return c.Messages
}

// SetActiveMessages replaces the messages of whatever line is active and refreshes totals
func (c *Conversation) SetActiveMessages(msgs []llm.Message) {
	if b := c.branch(c.ActiveBranchID); b != nil {
		b.Messages = msgs
	} else {
		c.Messages = msgs
	}
	c.Refresh()
}

// Refresh recomputes the title and totals from the active messages and bumps UpdatedAt
func (c *Conversation) Refresh() {
	msgs := c.ActiveMessages()

	c.Title = defaultTitle
	for _, m := range c.Messages {
		if m.Role == llm.RoleUser {
			c.Title = titleFrom(m.Content)
			break
		}
	}

	c.TotalTokens, c.TotalCost = 0, 0
	for _, m := range msgs {
		if m.TokenInfo == nil {
			continue
		}
		c.TotalTokens += m.TokenInfo.TotalTokens
		c.TotalCost += m.TokenInfo.CostOrZero()
	}
	c.UpdatedAt = time.Now()
}

// Fork creates a branch holding the active messages up to and including messageID
// and makes it active
func (c *Conversation) Fork(messageID, name string) (*Branch, error) {
	msgs := c.ActiveMessages()
	cut := -1
	for i, m := range msgs {
		if m.ID == messageID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	if name == "" {
		name = fmt.Sprintf("Branch %d", len(c.Branches)+1)
	}
	branch := Branch{
		ID:         "branch-" + uuid.NewString(),
		Name:       name,
		ForkedFrom: messageID,
		Messages:   append([]llm.Message(nil), msgs[:cut+1]...),
		CreatedAt:  time.Now(),
	}
	c.Branches = append(c.Branches, branch)
	c.ActiveBranchID = branch.ID
	return &c.Branches[len(c.Branches)-1], nil
}

// SwitchBranch activates a branch; an empty id returns to the main line
func (c *Conversation) SwitchBranch(branchID string) error {
	if branchID != "" && c.branch(branchID) == nil {
		return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
	}
	c.ActiveBranchID = branchID
	return nil
}

// DeleteBranch removes a branch, falling back to the main line if it was active
func (c *Conversation) DeleteBranch(branchID string) error {
	for i := range c.Branches {
		if c.Branches[i].ID != branchID {
			continue
		}
		c.Branches = append(c.Branches[:i], c.Branches[i+1:]...)
		if c.ActiveBranchID == branchID {
			c.ActiveBranchID = ""
		}
		return nil
	}
	return fmt.Errorf("branch %s: %w", branchID, ErrNotFound)
}

// trim enforces the per-conversation message cap on every line
func (c *Conversation) trim() {
	c.Messages = lastMessages(c.Messages)
	for i := range c.Branches {
		c.Branches[i].Messages = lastMessages(c.Branches[i].Messages)
	}
}

func (c *Conversation) branch(id string) *Branch {
	if id == "" {
		return nil
	}
	for i := range c.Branches {
		if c.Branches[i].ID == id {
			return &c.Branches[i]
		}
	}
	return nil
}

func lastMessages(msgs []llm.Message) []llm.Message {
	if len(msgs) <= MaxMessagesPerConversation {
		return msgs
	}
	return msgs[len(msgs)-MaxMessagesPerConversation:]
}

func titleFrom(first string) string {
	if first == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(first) <= titleLength {
		return first
	}
	return string([]rune(first)[:titleLength])
}
