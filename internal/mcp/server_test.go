package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/workspace"
)

func newTestServer(t *testing.T) (*ChatForgeServer, *budget.Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))

	ws, err := workspace.New(dir, workspace.Options{})
	require.NoError(t, err)

	tracker := budget.NewTracker(nil)
	cfg := &config.Config{
		Model: "claude-sonnet-4",
		Routing: config.RoutingConfig{
			Enabled: true,
			Rules: map[string]string{
				"code_review":  "ollama/llama3.1",
				"quick_answer": "gpt-4o-mini",
			},
		},
		Providers: map[string]config.Provider{},
	}
	return NewChatForgeServer(Deps{Config: cfg, Tracker: tracker, Registry: ws.Registry()}), tracker, dir
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestEstimateTokens(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleEstimateTokens(context.Background(), callTool("estimate_tokens", map[string]any{"text": "abcdefgh"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var est TokenEstimate
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &est))
	assert.Equal(t, 2, est.Estimated)
	assert.Equal(t, 2, est.Counted)
	assert.Equal(t, contextmgmt.MethodHeuristic, est.Method)

	result, err = s.handleEstimateTokens(context.Background(), callTool("estimate_tokens", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTokenBudget(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleTokenBudget(context.Background(), callTool("token_budget", map[string]any{
		"model":                  "gpt-4",
		"system_prompt_tokens":   1000,
		"current_message_tokens": 200,
	}))
	require.NoError(t, err)

	var b contextmgmt.TokenBudgetBreakdown
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &b))
	assert.Equal(t, 8192, b.ModelMaxTokens)
	assert.Equal(t, contextmgmt.BudgetModeCompact, b.Mode)
	assert.Equal(t, 1229, b.ResponseBuffer)
}

func TestMessageWindow(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleMessageWindow(context.Background(), callTool("message_window", map[string]any{
		"messages": `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`,
	}))
	require.NoError(t, err)

	var w contextmgmt.WindowResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &w))
	assert.Len(t, w.Messages, 2)
	assert.Zero(t, w.ExcludedCount)

	result, err = s.handleMessageWindow(context.Background(), callTool("message_window", map[string]any{"messages": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestParseToolCallsTool(t *testing.T) {
	s, _, _ := newTestServer(t)

	result, err := s.handleParseToolCalls(context.Background(), callTool("parse_tool_calls", map[string]any{
		"content": "TOOL: local_read\nARGS: {\"path\": \"main.go\"}",
	}))
	require.NoError(t, err)

	var calls []tools.ParsedToolCall
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, "local_read", calls[0].Tool)

	result, err = s.handleParseToolCalls(context.Background(), callTool("parse_tool_calls", map[string]any{"content": "no calls"}))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))
}

func TestCheckBudgetTool(t *testing.T) {
	s, tracker, _ := newTestServer(t)
	tracker.SetBudgets([]budget.ProviderBudget{{ProviderID: "openai", MonthlyLimitUSD: 10}})
	_, err := tracker.RecordSpending(context.Background(), "openai", 9, 100, "")
	require.NoError(t, err)

	result, err := s.handleCheckBudget(context.Background(), callTool("check_budget", map[string]any{"provider": "openai"}))
	require.NoError(t, err)

	var check budget.CheckResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &check))
	assert.True(t, check.Allowed)
	assert.True(t, check.Warning)
	assert.Equal(t, 90, check.PercentUsed)
}

func TestDetectTaskTypeRoutes(t *testing.T) {
	s, _, _ := newTestServer(t)

	detect := func(text string) TaskRoute {
		result, err := s.handleDetectTaskType(context.Background(), callTool("detect_task_type", map[string]any{"prompt": text}))
		require.NoError(t, err)
		var route TaskRoute
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &route))
		return route
	}

	route := detect("fix the bug in this function")
	assert.Equal(t, contextmgmt.TaskCodeReview, route.TaskType)
	assert.Equal(t, "ollama/llama3.1", route.Model)
	assert.Equal(t, "ollama", route.Provider)

	route = detect("what is a goroutine?")
	assert.Equal(t, contextmgmt.TaskQuickAnswer, route.TaskType)
	assert.Equal(t, "claude-sonnet-4", route.Model, "rule skipped without credentials")
	assert.Equal(t, "anthropic", route.Provider)
}

func TestWorkspaceToolsOnlySafe(t *testing.T) {
	s, _, dir := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleWorkspaceTool(ctx, callTool(workspace.ToolRead, map[string]any{"path": "main.go"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "func main()")

	result, err = s.handleWorkspaceTool(ctx, callTool(workspace.ToolDelete, map[string]any{"path": "main.go"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.FileExists(t, filepath.Join(dir, "main.go"))
}

func TestTemplatePrompt(t *testing.T) {
	s, _, _ := newTestServer(t)
	templates := prompt.DefaultTemplates()
	require.NotEmpty(t, templates)

	var req mcp.GetPromptRequest
	req.Params.Arguments = map[string]string{"selection": "x := 1", "file_path": "a/b.go"}

	result, err := s.handleTemplatePrompt(templates[0])(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	text, ok := result.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "x := 1")
	assert.Equal(t, "review", promptName(templates[0]))
}

func TestResources(t *testing.T) {
	s, tracker, _ := newTestServer(t)
	tracker.SetBudgets([]budget.ProviderBudget{{ProviderID: "openai", MonthlyLimitUSD: 5}})

	var req mcp.ReadResourceRequest
	req.Params.URI = budgetsURI
	contents, err := s.handleBudgetsResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcp.TextResourceContents)
	assert.Contains(t, text.Text, "openai")

	req.Params.URI = spendURI
	contents, err = s.handleSpendResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
}
