package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgs(t *testing.T) {
	def := Definition{
		Name: "local_write",
		Parameters: []Parameter{
			{Name: "path", Type: TypeString, Required: true},
			{Name: "content", Type: TypeString, Required: true},
			{Name: "mode", Type: TypeNumber},
			{Name: "backup", Type: TypeBoolean},
			{Name: "tags", Type: TypeArray},
		},
	}

	ok := ValidateArgs(def, map[string]any{"path": "a", "content": "b", "mode": float64(420), "backup": true, "tags": []any{"x"}})
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Errors)
	assert.Empty(t, ok.Warnings)

	bad := ValidateArgs(def, map[string]any{"path": 3, "mode": "fast", "color": "red"})
	assert.False(t, bad.Valid)
	assert.Equal(t, []string{
		`parameter "path" must be a string`,
		`missing required parameter "content"`,
		`parameter "mode" must be a number`,
	}, bad.Errors)
	assert.Equal(t, []string{`unknown parameter "color" ignored`}, bad.Warnings)

	unavailable := UnavailableValidation()
	assert.True(t, unavailable.Valid)
	require.Len(t, unavailable.Warnings, 1)
}

func TestEditPreview(t *testing.T) {
	content := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"

	preview, err := EditPreview("main.go", content, `"hi"`, `"hello"`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(preview, "main.go: 1 occurrence(s)"))
	assert.Contains(t, preview, "--- a/main.go")
	assert.Contains(t, preview, "+++ b/main.go")
	assert.Contains(t, preview, "-\tprintln(\"hi\")")
	assert.Contains(t, preview, "+\tprintln(\"hello\")")

	_, err = EditPreview("main.go", content, "missing", "x")
	require.Error(t, err)
	assert.Equal(t, "rag_search", AnalyzeToolError("local_edit", nil, err.Error()).SuggestedTool)
}

func TestGenerateToolsPrompt(t *testing.T) {
	prompt := GenerateToolsPrompt([]Definition{{
		Name:        "local_read",
		Description: "Read a file",
		DangerLevel: DangerSafe,
		Parameters:  []Parameter{{Name: "path", Type: TypeString, Required: true}, {Name: "limit", Type: TypeNumber}},
	}})
	assert.Contains(t, prompt, "- local_read: Read a file [safe]\n  Parameters: path (string, required), limit (number)")
	assert.Contains(t, prompt, "TOOL: tool_name\nARGS: {")
	// The instructions themselves must not parse as a call
	calls := ParseToolCalls(prompt)
	require.Len(t, calls, 1)
	assert.Equal(t, "tool_name", calls[0].Tool)
}

func TestFormatToolResult(t *testing.T) {
	list := FormatToolResult("local_list", ListResult{
		Entries:   []ListEntry{{Name: "src", IsDir: true}, {Name: "go.mod", Size: 120}},
		Truncated: true,
		Total:     40,
	})
	assert.Equal(t, "```\n/ src\n  go.mod (120 bytes)\n_...truncated (40 total)_\n```", list)

	assert.Equal(t, "No results found.", FormatToolResult("local_search", SearchResult{}))
	assert.Equal(t, "**Replaced 2 occurrence(s)** in `a.go`", FormatToolResult("local_edit", EditResult{Success: true, Replaced: 2, Path: "a.go"}))
	assert.Equal(t, "```json\n{\n  \"n\": 1\n}\n```", FormatToolResult("x", map[string]int{"n": 1}))

	failed := FormatCallOutcome(AgentToolCall{
		ToolName: "local_read",
		Status:   StatusError,
		Error:    "no such file",
		Recovery: &RetryStrategy{Suggestion: "File not found", SuggestedTool: "local_list", SuggestedArgs: map[string]any{"path": "/"}},
	})
	assert.Equal(t, "Tool `local_read` failed: no such file\nFile not found\nSuggested next step:\nTOOL: local_list\nARGS: {\"path\":\"/\"}", failed)
}
