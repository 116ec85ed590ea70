// Package mcp exposes token accounting, tool call parsing, spend checks and the read-only
// workspace tools over the Model Context Protocol.
package mcp

import (
	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

const (
	serverName    = "ChatForge"
	serverVersion = "0.1.0"

	spendURI   = "chatforge://spend/month"
	budgetsURI = "chatforge://budgets"
)

// Deps are the services the MCP server reads from
type Deps struct {
	Config  *config.Config
	Tracker *budget.Tracker
	// Registry contributes its safe tools; tools needing approval are never exposed
	Registry  *tools.Registry
	Counter   *contextmgmt.TokenCounter
	Templates []prompt.Template
}

// ChatForgeServer is the MCP server for ChatForge
type ChatForgeServer struct {
	server    *server.MCPServer
	config    *config.Config
	tracker   *budget.Tracker
	registry  *tools.Registry
	counter   *contextmgmt.TokenCounter
	templates []prompt.Template
}

// NewChatForgeServer creates the server and registers its tools, resources and prompts
func NewChatForgeServer(deps Deps) *ChatForgeServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)

	cfs := &ChatForgeServer{
		server:    s,
		config:    deps.Config,
		tracker:   deps.Tracker,
		registry:  deps.Registry,
		counter:   deps.Counter,
		templates: deps.Templates,
	}
	if cfs.tracker == nil {
		cfs.tracker = budget.NewTracker(nil)
	}
	if cfs.counter == nil {
		cfs.counter = contextmgmt.NewTokenCounter(false)
	}
	if cfs.templates == nil {
		cfs.templates = prompt.DefaultTemplates()
	}

	cfs.registerTools()
	cfs.registerWorkspaceTools()
	cfs.registerResources()
	cfs.registerPrompts()

	return cfs
}

// registerTools registers the conversation accounting tools
func (cfs *ChatForgeServer) registerTools() {
	cfs.server.AddTool(mcp.NewTool("estimate_tokens",
		mcp.WithDescription("Estimate the number of tokens in a text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to measure")),
		mcp.WithString("model", mcp.Description("Model id used for an exact count when enabled")),
	), cfs.handleEstimateTokens)

	cfs.server.AddTool(mcp.NewTool("token_budget",
		mcp.WithDescription("Split a model's context window between system prompt, context, history, message and response"),
		mcp.WithString("model", mcp.Description("Model id (default: configured model)")),
		mcp.WithNumber("system_prompt_tokens", mcp.Description("Tokens used by the system prompt")),
		mcp.WithNumber("context_tokens", mcp.Description("Tokens used by project context")),
		mcp.WithNumber("history_tokens", mcp.Description("Tokens used by conversation history")),
		mcp.WithNumber("current_message_tokens", mcp.Description("Tokens used by the new message")),
	), cfs.handleTokenBudget)

	cfs.server.AddTool(mcp.NewTool("message_window",
		mcp.WithDescription("Select the conversation history that fits a model's context window"),
		mcp.WithString("messages", mcp.Required(), mcp.Description(`JSON array of {"role","content"} messages, oldest first`)),
		mcp.WithString("model", mcp.Description("Model id (default: configured model)")),
		mcp.WithNumber("system_prompt_tokens", mcp.Description("Tokens used by the system prompt")),
		mcp.WithNumber("context_tokens", mcp.Description("Tokens used by project context")),
		mcp.WithNumber("current_message_tokens", mcp.Description("Tokens used by the new message")),
	), cfs.handleMessageWindow)

	cfs.server.AddTool(mcp.NewTool("parse_tool_calls",
		mcp.WithDescription("Extract TOOL:/ARGS: tool calls from model output"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Model output to scan")),
	), cfs.handleParseToolCalls)

	cfs.server.AddTool(mcp.NewTool("check_budget",
		mcp.WithDescription("Check a provider's monthly spending against its budget"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id, for example anthropic")),
	), cfs.handleCheckBudget)

	cfs.server.AddTool(mcp.NewTool("detect_task_type",
		mcp.WithDescription("Classify a prompt and report the model it routes to"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt")),
	), cfs.handleDetectTaskType)
}

// registerWorkspaceTools exposes the registry's safe tools under their own names
func (cfs *ChatForgeServer) registerWorkspaceTools() {
	if cfs.registry == nil {
		return
	}
	for _, t := range cfs.registry.SafeTools() {
		cfs.server.AddTool(toolFromDefinition(t.Definition()), cfs.handleWorkspaceTool)
	}
}

func toolFromDefinition(def tools.Definition) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(def.Description)}
	for _, p := range def.Parameters {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case tools.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case tools.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case tools.TypeArray:
			opts = append(opts, mcp.WithArray(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(def.Name, opts...)
}

// registerResources registers spending and budget resources
func (cfs *ChatForgeServer) registerResources() {
	cfs.server.AddResource(mcp.NewResource(
		spendURI,
		"Monthly Spending",
		mcp.WithResourceDescription("Spending per provider for the current month"),
		mcp.WithMIMEType("application/json"),
	), cfs.handleSpendResource)

	cfs.server.AddResource(mcp.NewResource(
		budgetsURI,
		"Provider Budgets",
		mcp.WithResourceDescription("Configured monthly budgets per provider"),
		mcp.WithMIMEType("application/json"),
	), cfs.handleBudgetsResource)
}

// registerPrompts exposes every slash command template as a prompt
func (cfs *ChatForgeServer) registerPrompts() {
	for _, t := range cfs.templates {
		p := mcp.NewPrompt(promptName(t),
			mcp.WithPromptDescription(t.Description),
			mcp.WithArgument("selection", mcp.ArgumentDescription("Code or text the prompt is about")),
			mcp.WithArgument("file_path", mcp.ArgumentDescription("Path of the file the selection comes from")),
		)
		cfs.server.AddPrompt(p, cfs.handleTemplatePrompt(t))
	}
}

// Start serves over stdio
func (cfs *ChatForgeServer) Start() error {
	log.Info("Starting ChatForge MCP server", "transport", "stdio")
	return server.ServeStdio(cfs.server)
}

// StartSSE serves over Server-Sent Events
func (cfs *ChatForgeServer) StartSSE(addr string) error {
	log.Info("Starting ChatForge MCP server", "transport", "sse", "addr", addr)
	return server.NewSSEServer(cfs.server).Start(addr)
}

// StartStreamableHTTP serves over Streamable HTTP
func (cfs *ChatForgeServer) StartStreamableHTTP(addr string) error {
	log.Info("Starting ChatForge MCP server", "transport", "http", "addr", addr)
	return server.NewStreamableHTTPServer(cfs.server).Start(addr)
}

// GetServer returns the underlying MCP server
func (cfs *ChatForgeServer) GetServer() *server.MCPServer {
	return cfs.server
}
