package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

// TokenEstimate is the result of estimate_tokens
type TokenEstimate struct {
	Estimated int    `json:"estimated"`
	Counted   int    `json:"counted"`
	Method    string `json:"method"`
	Model     string `json:"model,omitempty"`
}

// TaskRoute is the result of detect_task_type
type TaskRoute struct {
	TaskType contextmgmt.TaskType `json:"task_type"`
	Model    string               `json:"model,omitempty"`
	Provider string               `json:"provider,omitempty"`
}

func (cfs *ChatForgeServer) handleEstimateTokens(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text parameter is required"), nil
	}
	model := request.GetString("model", cfs.defaultModel())

	counted := cfs.counter.CountWithMetadata(text, model)
	return jsonResult(TokenEstimate{
		Estimated: contextmgmt.EstimateTokens(text),
		Counted:   counted.Count,
		Method:    counted.Method,
		Model:     model,
	})
}

func (cfs *ChatForgeServer) handleTokenBudget(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxTokens := cfs.contextWindow(request.GetString("model", ""))
	breakdown := contextmgmt.ComputeTokenBudget(
		maxTokens,
		int(request.GetFloat("system_prompt_tokens", 0)),
		int(request.GetFloat("context_tokens", 0)),
		int(request.GetFloat("history_tokens", 0)),
		int(request.GetFloat("current_message_tokens", 0)),
	)
	return jsonResult(breakdown)
}

func (cfs *ChatForgeServer) handleMessageWindow(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("messages")
	if err != nil {
		return mcp.NewToolResultError("messages parameter is required"), nil
	}
	var messages []contextmgmt.ConversationMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("messages must be a JSON array of {role, content}: %v", err)), nil
	}

	window := contextmgmt.BuildMessageWindow(contextmgmt.WindowInput{
		Messages:             messages,
		SystemPromptTokens:   int(request.GetFloat("system_prompt_tokens", 0)),
		ContextTokens:        int(request.GetFloat("context_tokens", 0)),
		CurrentMessageTokens: int(request.GetFloat("current_message_tokens", 0)),
		ModelMaxTokens:       cfs.contextWindow(request.GetString("model", "")),
	})
	return jsonResult(window)
}

func (cfs *ChatForgeServer) handleParseToolCalls(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content parameter is required"), nil
	}
	calls := tools.ParseToolCalls(content)
	if calls == nil {
		calls = []tools.ParsedToolCall{}
	}
	return jsonResult(calls)
}

func (cfs *ChatForgeServer) handleCheckBudget(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider, err := request.RequireString("provider")
	if err != nil {
		return mcp.NewToolResultError("provider parameter is required"), nil
	}
	return jsonResult(cfs.tracker.CheckBudget(provider))
}

func (cfs *ChatForgeServer) handleDetectTaskType(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("prompt parameter is required"), nil
	}

	route := TaskRoute{TaskType: contextmgmt.DetectTaskType(text)}
	if cfs.config != nil {
		route.Model = cfs.config.RouteModel(route.TaskType)
	}
	if route.Model != "" {
		route.Provider, _ = providers.DetermineProvider(route.Model)
	}
	return jsonResult(route)
}

// handleWorkspaceTool runs one of the registry's safe tools
func (cfs *ChatForgeServer) handleWorkspaceTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name
	t, ok := cfs.registry.Get(name)
	if !ok || t.DangerLevel() != tools.DangerSafe {
		return mcp.NewToolResultError(fmt.Sprintf("tool not available: %s", name)), nil
	}

	args := request.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(tools.FormatToolResult(name, result)), nil
}

func (cfs *ChatForgeServer) handleSpendResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, cfs.tracker.MonthlySpending())
}

func (cfs *ChatForgeServer) handleBudgetsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, cfs.tracker.Budgets())
}

func (cfs *ChatForgeServer) defaultModel() string {
	if cfs.config == nil {
		return ""
	}
	return cfs.config.Model
}

// contextWindow returns the context window of model, or of the configured model when empty
func (cfs *ChatForgeServer) contextWindow(model string) int {
	if model == "" {
		model = cfs.defaultModel()
	}
	if cfs.config == nil {
		return 0
	}
	return cfs.config.GetModelConfig(model).ContextWindow
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
