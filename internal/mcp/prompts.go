package mcp

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
)

// promptName turns a slash command such as "/review" into an MCP prompt name
func promptName(t prompt.Template) string {
	name := strings.TrimPrefix(t.Command, "/")
	if name == "" {
		name = t.ID
	}
	return name
}

// handleTemplatePrompt resolves a template with the caller's selection
func (cfs *ChatForgeServer) handleTemplatePrompt(t prompt.Template) func(context.Context, mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(_ context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		tc := prompt.TemplateContext{
			Selection: request.Params.Arguments["selection"],
			FilePath:  request.Params.Arguments["file_path"],
		}
		if tc.FilePath != "" {
			tc.FileName = filepath.Base(tc.FilePath)
		}

		return mcp.NewGetPromptResult(t.Name, []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(prompt.ResolveTemplate(t, tc))),
		}), nil
	}
}
