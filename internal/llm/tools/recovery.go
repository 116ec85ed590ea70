package tools

import (
	"fmt"
	"strings"
)

const defaultAutoRetries = 3

// RetryStrategy is the recovery advice derived from a failed tool call
type RetryStrategy struct {
	CanRetry      bool           `json:"can_retry"`
	Suggestion    string         `json:"suggestion"`
	SuggestedTool string         `json:"suggested_tool,omitempty"`
	SuggestedArgs map[string]any `json:"suggested_args,omitempty"`
	AutoRetry     bool           `json:"auto_retry,omitempty"`
	MaxRetries    int            `json:"max_retries,omitempty"`
}

// AnalyzeToolError classifies a tool failure. It only inspects its inputs.
func AnalyzeToolError(toolName string, args map[string]any, errText string) RetryStrategy {
	e := strings.ToLower(errText)
	path := StringArg(args, "path")

	if (toolName == "local_edit" || toolName == "remote_edit") &&
		(strings.Contains(e, "not found") || strings.Contains(e, `occurrences": 0`)) {
		query := truncateRunes(StringArg(args, "find"), 100)
		return RetryStrategy{
			Suggestion: fmt.Sprintf(`Search string not found in "%s". Try rag_search to locate the exact text, or check for whitespace/encoding differences.`, path),
			SuggestedTool: "rag_search",
			SuggestedArgs: map[string]any{"query": query, "path": path},
		}
	}

	if strings.Contains(e, "not connected") {
		return RetryStrategy{Suggestion: "Not connected to any server. Please establish a connection first."}
	}

	if strings.Contains(e, "permission denied") || strings.Contains(e, "access denied") {
		return RetryStrategy{
			Suggestion: fmt.Sprintf(`Permission denied for "%s". Check file permissions or try a different path.`, path),
		}
	}

	if strings.Contains(e, "no such file") || strings.Contains(e, "file not found") ||
		(strings.Contains(e, "not found") && strings.Contains(e, "file")) {
		listTool := "local_list"
		if strings.HasPrefix(toolName, "remote_") {
			listTool = "remote_list"
		}
		return RetryStrategy{
			Suggestion:    fmt.Sprintf(`File not found: "%s". Use %s to verify the path.`, path, listTool),
			SuggestedTool: listTool,
			SuggestedArgs: map[string]any{"path": parentPath(path)},
		}
	}

	if strings.Contains(e, "rate limit") || strings.Contains(e, "timeout") ||
		strings.Contains(e, "429") || strings.Contains(e, "503") || strings.Contains(e, "502") {
		return RetryStrategy{
			CanRetry:   true,
			Suggestion: "Rate limited or timeout. Retrying automatically...",
			AutoRetry:  true,
			MaxRetries: defaultAutoRetries,
		}
	}

	if strings.Contains(e, "no space") || strings.Contains(e, "disk full") || strings.Contains(e, "quota") {
		return RetryStrategy{Suggestion: "Disk full or quota exceeded. Free up space and try again."}
	}

	if strings.Contains(e, "too large") || strings.Contains(e, "size limit") {
		return RetryStrategy{Suggestion: "File is too large for this operation. Consider working with smaller files."}
	}

	if strings.Contains(e, "utf-8") || strings.Contains(e, "utf8") || strings.Contains(e, "valid text") {
		return RetryStrategy{Suggestion: "File is not valid UTF-8 text. It may be a binary file."}
	}

	return RetryStrategy{Suggestion: fmt.Sprintf(`Tool "%s" failed: %s`, toolName, errText)}
}

// parentPath drops the last slash separated segment, falling back to the root
func parentPath(path string) string {
	parts := strings.Split(path, "/")
	parent := strings.Join(parts[:len(parts)-1], "/")
	if parent == "" {
		return "/"
	}
	return parent
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
