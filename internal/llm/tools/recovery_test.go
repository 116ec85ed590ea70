package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeToolError(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		err      string
		expected RetryStrategy
	}{
		{
			name: "edit search string missing",
			tool: "local_edit",
			args: map[string]any{"path": "/src/a.go", "find": strings.Repeat("q", 150)},
			err:  `{"replaced": 0, "occurrences": 0}`,
			expected: RetryStrategy{
				Suggestion:    `Search string not found in "/src/a.go". Try rag_search to locate the exact text, or check for whitespace/encoding differences.`,
				SuggestedTool: "rag_search",
				SuggestedArgs: map[string]any{"query": strings.Repeat("q", 100), "path": "/src/a.go"},
			},
		},
		{
			name:     "not connected",
			tool:     "remote_list",
			err:      "Not connected",
			expected: RetryStrategy{Suggestion: "Not connected to any server. Please establish a connection first."},
		},
		{
			name:     "permission denied",
			tool:     "local_write",
			args:     map[string]any{"path": "/etc/hosts"},
			err:      "open /etc/hosts: permission denied",
			expected: RetryStrategy{Suggestion: `Permission denied for "/etc/hosts". Check file permissions or try a different path.`},
		},
		{
			name: "local file missing",
			tool: "local_read",
			args: map[string]any{"path": "/home/me/notes.txt"},
			err:  "open /home/me/notes.txt: no such file or directory",
			expected: RetryStrategy{
				Suggestion:    `File not found: "/home/me/notes.txt". Use local_list to verify the path.`,
				SuggestedTool: "local_list",
				SuggestedArgs: map[string]any{"path": "/home/me"},
			},
		},
		{
			name: "remote file at root",
			tool: "remote_read",
			args: map[string]any{"path": "/index.html"},
			err:  "File not found",
			expected: RetryStrategy{
				Suggestion:    `File not found: "/index.html". Use remote_list to verify the path.`,
				SuggestedTool: "remote_list",
				SuggestedArgs: map[string]any{"path": "/"},
			},
		},
		{
			name: "transient",
			tool: "remote_read",
			err:  "HTTP 429 Too Many Requests",
			expected: RetryStrategy{
				CanRetry:   true,
				Suggestion: "Rate limited or timeout. Retrying automatically...",
				AutoRetry:  true,
				MaxRetries: 3,
			},
		},
		{
			name:     "disk full",
			tool:     "local_write",
			err:      "write failed: no space left on device",
			expected: RetryStrategy{Suggestion: "Disk full or quota exceeded. Free up space and try again."},
		},
		{
			name:     "too large",
			tool:     "local_read",
			err:      "file too large",
			expected: RetryStrategy{Suggestion: "File is too large for this operation. Consider working with smaller files."},
		},
		{
			name:     "binary",
			tool:     "local_read",
			err:      "stream did not contain valid UTF-8",
			expected: RetryStrategy{Suggestion: "File is not valid UTF-8 text. It may be a binary file."},
		},
		{
			name:     "default",
			tool:     "local_rename",
			err:      "target exists",
			expected: RetryStrategy{Suggestion: `Tool "local_rename" failed: target exists`},
		},
		{
			name:     "edit rule only applies to edit tools",
			tool:     "local_search",
			err:      "pattern not found",
			expected: RetryStrategy{Suggestion: `Tool "local_search" failed: pattern not found`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnalyzeToolError(tt.tool, tt.args, tt.err))
		})
	}
}
