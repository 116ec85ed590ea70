package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ListEntry is one item of a directory listing result
type ListEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListResult is returned by listing tools
type ListResult struct {
	Entries   []ListEntry `json:"entries"`
	Truncated bool        `json:"truncated,omitempty"`
	Total     int         `json:"total,omitempty"`
}

// ReadResult is returned by reading tools
type ReadResult struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	Size      int64  `json:"size"`
}

// SearchResult is returned by search tools
type SearchResult struct {
	Results []ListEntry `json:"results"`
}

// EditResult is returned by editing tools
type EditResult struct {
	Success  bool   `json:"success"`
	Replaced int    `json:"replaced"`
	Path     string `json:"path"`
	Message  string `json:"message,omitempty"`
}

// MessageResult is a plain confirmation message
type MessageResult struct {
	Message string `json:"message"`
}

// FormatToolResult renders a tool result as markdown for the conversation
func FormatToolResult(toolName string, result any) string {
	switch r := result.(type) {
	case ListResult:
		lines := make([]string, 0, len(r.Entries))
		for _, e := range r.Entries {
			if e.IsDir {
				lines = append(lines, "/ "+e.Name)
			} else {
				lines = append(lines, fmt.Sprintf("  %s (%d bytes)", e.Name, e.Size))
			}
		}
		out := strings.Join(lines, "\n")
		if r.Truncated {
			out += fmt.Sprintf("\n_...truncated (%d total)_", r.Total)
		}
		return "```\n" + out + "\n```"

	case ReadResult:
		out := r.Content
		if r.Truncated {
			out += fmt.Sprintf("\n\n_...truncated (%d bytes total)_", r.Size)
		}
		return "```\n" + out + "\n```"

	case SearchResult:
		if len(r.Results) == 0 {
			return "No results found."
		}
		lines := make([]string, 0, len(r.Results))
		for _, e := range r.Results {
			marker := " "
			if e.IsDir {
				marker = "/"
			}
			lines = append(lines, marker+" "+e.Path)
		}
		return strings.Join(lines, "\n")

	case EditResult:
		if !r.Success {
			if r.Message != "" {
				return r.Message
			}
			return "String not found in file"
		}
		path := r.Path
		if path == "" {
			path = "file"
		}
		return fmt.Sprintf("**Replaced %d occurrence(s)** in `%s`", r.Replaced, path)

	case MessageResult:
		return r.Message

	case []MacroStepResult:
		parts := make([]string, 0, len(r))
		for i, step := range r {
			parts = append(parts, fmt.Sprintf("**Step %d: %s**\n%s", i+1, step.Tool, FormatToolResult(step.Tool, step.Result)))
		}
		return strings.Join(parts, "\n\n")

	case string:
		return r
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%s: %v", toolName, result)
	}
	return "```json\n" + string(data) + "\n```"
}

// FormatCallOutcome renders the message folded back into the conversation after a call ends
func FormatCallOutcome(call AgentToolCall) string {
	switch call.Status {
	case StatusCompleted:
		return fmt.Sprintf("Tool `%s` completed:\n%s", call.ToolName, FormatToolResult(call.ToolName, call.Result))
	case StatusRejected:
		return fmt.Sprintf("Tool `%s` was rejected by the user.", call.ToolName)
	case StatusError:
		msg := fmt.Sprintf("Tool `%s` failed: %s", call.ToolName, call.Error)
		if call.Recovery != nil {
			msg += "\n" + call.Recovery.Suggestion
			if call.Recovery.SuggestedTool != "" {
				args, _ := json.Marshal(call.Recovery.SuggestedArgs)
				msg += fmt.Sprintf("\nSuggested next step:\nTOOL: %s\nARGS: %s", call.Recovery.SuggestedTool, args)
			}
		}
		return msg
	default:
		return fmt.Sprintf("Tool `%s` is %s.", call.ToolName, call.Status)
	}
}
