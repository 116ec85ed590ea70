// Package chat runs conversation turns: it assembles a bounded request from history and
// project context, sends it to the routed model, and feeds tool calls through approval.
package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/logging"
	"github.com/entrepeneur4lyf/chatforge/internal/snapshot"
	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

var (
	ErrEmptyInput       = errors.New("empty message")
	ErrTurnInProgress   = errors.New("a turn is already in progress")
	ErrToolCallsPending = errors.New("tool calls are awaiting approval")
	ErrNoModel          = errors.New("no model configured")
)

// Update is the payload of every event a session publishes
type Update struct {
	ConversationID string                            `json:"conversation_id"`
	Delta          string                            `json:"delta,omitempty"`
	Message        *llm.Message                      `json:"message,omitempty"`
	Call           *tools.AgentToolCall              `json:"call,omitempty"`
	Budget         *contextmgmt.TokenBudgetBreakdown `json:"budget,omitempty"`
	Spend          *budget.CheckResult               `json:"spend,omitempty"`
	Error          string                            `json:"error,omitempty"`
	Hint           string                            `json:"hint,omitempty"`
}

// Options wires a session to its collaborators. Config and Clients are required.
type Options struct {
	Config    *config.Config
	Clients   ClientFactory
	Tracker   *budget.Tracker
	Store     storage.ConversationStore
	Collector *snapshot.Collector
	Registry  *tools.Registry
	Macros    []tools.ToolMacro
	Broker    *events.Broker[Update]
	Audit     *logging.AuditLog
	Templates []prompt.Template
	// Stream delivers replies incrementally as StreamDelta events
	Stream         bool
	ToolRetryDelay time.Duration
}

// TurnInput is one user message
type TurnInput struct {
	Text string
	// ActiveFile is the file the user is looking at, used for imports and templates
	ActiveFile string
	Selection  string
	// Model overrides task routing when set
	Model string
}

// TurnResult describes a completed turn
type TurnResult struct {
	Message   llm.Message                      `json:"message"`
	Model     string                           `json:"model"`
	Provider  string                           `json:"provider"`
	TaskType  contextmgmt.TaskType             `json:"task_type"`
	Budget    contextmgmt.TokenBudgetBreakdown `json:"budget"`
	Window    contextmgmt.WindowResult         `json:"window"`
	Context   contextmgmt.SmartContext         `json:"context"`
	ToolCalls []tools.AgentToolCall            `json:"tool_calls,omitempty"`
	Spend     budget.CheckResult               `json:"spend"`
}

// Session is one conversation and the machinery that advances it
type Session struct {
	cfg        *config.Config
	clients    ClientFactory
	tracker    *budget.Tracker
	store      storage.ConversationStore
	collector  *snapshot.Collector
	dispatcher *tools.Dispatcher
	broker     *events.Broker[Update]
	audit      *logging.AuditLog
	templates  []prompt.Template
	stream     bool

	busy atomic.Bool

	mu   sync.Mutex
	conv *storage.Conversation

	instructionsOnce sync.Once
	instructions     string
}

// NewSession creates a session with no conversation yet
func NewSession(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("chat session requires a config")
	}
	if opts.Clients == nil {
		return nil, errors.New("chat session requires a client factory")
	}

	s := &Session{
		cfg:       opts.Config,
		clients:   opts.Clients,
		tracker:   opts.Tracker,
		store:     opts.Store,
		collector: opts.Collector,
		broker:    opts.Broker,
		audit:     opts.Audit,
		templates: opts.Templates,
		stream:    opts.Stream,
	}
	if s.tracker == nil {
		s.tracker = budget.NewTracker(nil)
	}
	if s.collector == nil {
		s.collector = &snapshot.Collector{}
	}
	if s.templates == nil {
		s.templates = prompt.DefaultTemplates()
	}

	registry := opts.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}
	dispatchOpts := []tools.DispatcherOption{
		tools.WithMacros(opts.Macros),
		tools.WithObserver(s.onToolCall),
	}
	if opts.ToolRetryDelay > 0 {
		dispatchOpts = append(dispatchOpts, tools.WithRetryDelay(opts.ToolRetryDelay))
	}
	s.dispatcher = tools.NewDispatcher(registry, dispatchOpts...)

	return s, nil
}

// Send runs one turn. Only one turn may run at a time.
func (s *Session) Send(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyInput
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}
	defer s.busy.Store(false)
	if len(s.dispatcher.Pending()) > 0 {
		return nil, ErrToolCallsPending
	}

	text := in.Text
	tc := prompt.TemplateContext{Selection: in.Selection, FilePath: in.ActiveFile}
	if in.ActiveFile != "" {
		tc.FileName = filepath.Base(in.ActiveFile)
	}
	if expanded, ok := prompt.ExpandSlashCommand(text, s.templates, tc); ok {
		text = expanded
	}

	task := contextmgmt.DetectTaskType(text)
	model := in.Model
	if model == "" {
		model = s.cfg.RouteModel(task)
	}
	if model == "" {
		return nil, ErrNoModel
	}
	provider, modelName := providers.DetermineProvider(model)
	mc := s.cfg.GetModelConfig(model)
	maxTokens := mc.ContextWindow
	mode := contextmgmt.DetermineBudgetMode(maxTokens)

	gathered := s.collector.Gather(ctx, snapshot.Request{
		Prompt:     text,
		TaskType:   task,
		ActiveFile: in.ActiveFile,
		Budget:     s.cfg.ContextBudget(mode),
	})
	smart := contextmgmt.BuildSmartContext(gathered)

	defs := s.dispatcher.Definitions()
	promptInput := prompt.SystemPromptInput{
		Base:         s.cfg.SystemPrompt,
		WorkingDir:   s.cfg.WorkingDir,
		Tools:        defs,
		Instructions: s.projectInstructions(ctx),
	}
	systemTokens := contextmgmt.EstimateTokens(prompt.BuildSystemPrompt(promptInput))
	promptInput.SmartContext = contextmgmt.FormatSmartContextForPrompt(smart)
	systemPrompt := prompt.BuildSystemPrompt(promptInput)

	currentTokens := contextmgmt.EstimateTokens(text)
	window := contextmgmt.BuildMessageWindow(contextmgmt.WindowInput{
		Messages:             llm.ToConversation(s.Messages()),
		SystemPromptTokens:   systemTokens,
		CurrentMessageTokens: currentTokens,
		ContextTokens:        smart.TotalEstimatedTokens,
		ModelMaxTokens:       maxTokens,
	})
	breakdown := contextmgmt.ComputeTokenBudget(maxTokens, systemTokens, smart.TotalEstimatedTokens, window.HistoryTokens, currentTokens)

	s.publish(events.ContextBuilt, Update{Budget: &breakdown}, events.WithMetadata(map[string]any{
		"sections": len(smart.Sections),
		"tokens":   smart.TotalEstimatedTokens,
		"task":     string(task),
	}))
	s.publish(events.WindowBuilt, Update{Budget: &breakdown}, events.WithMetadata(map[string]any{
		"excluded":   window.ExcludedCount,
		"summarized": window.Summarized,
	}))
	log.Debug("Request assembled", "model", model, "mode", breakdown.Mode, "usage", breakdown.UsagePercent, "excluded", window.ExcludedCount)

	check := s.tracker.CheckBudget(provider)
	if err := check.Err(); err != nil {
		s.publish(events.TurnFailed, Update{Spend: &check, Error: err.Error()})
		return nil, err
	}
	if check.Warning {
		s.publish(events.BudgetWarning, Update{Spend: &check})
	}

	client, err := s.clients(model)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		Model:        modelName,
		SystemPrompt: systemPrompt,
		Messages:     append(window.Messages, contextmgmt.ConversationMessage{Role: contextmgmt.RoleUser, Content: text}),
		MaxTokens:    s.maxOutputTokens(model),
		Temperature:  &s.cfg.Temperature,
	}
	if mc.SupportsTools {
		req.Tools = toolSpecs(defs)
	}

	userMsg := llm.NewMessage(llm.RoleUser, text)
	s.append(userMsg)
	s.publish(events.TurnStarted, Update{Message: &userMsg, Budget: &breakdown})

	resp, err := s.request(ctx, client, req)
	if err != nil {
		s.persist(ctx)
		if errors.Is(err, llm.ErrCancelled) {
			s.publish(events.TurnCancelled, Update{Error: err.Error()})
			return nil, err
		}
		if errors.Is(err, providers.ErrRateLimited) {
			s.publish(events.RateLimited, Update{Error: err.Error()})
		}
		s.publish(events.TurnFailed, Update{Error: err.Error(), Hint: providers.ErrorHint(err)})
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}

	info := llm.ComputeTokenInfo(resp.InputTokens, resp.OutputTokens, resp.TokensUsed, mc.Cost(), resp.CacheCreationTokens, resp.CacheReadTokens)
	if info == nil {
		// Provider reported no usage; charge the estimate
		info = llm.ComputeTokenInfo(breakdown.UsedTokens()-breakdown.ResponseBuffer, contextmgmt.EstimateTokens(resp.Content), 0, mc.Cost(), 0, 0)
	}

	reply := llm.NewMessage(llm.RoleAssistant, resp.Content)
	reply.ModelInfo = &llm.ModelInfo{ModelName: model, ProviderName: provider, ProviderType: provider}
	reply.TokenInfo = info
	convID := s.append(reply)

	// the tracker keeps spending in memory and logs when it cannot persist
	spend, _ := s.tracker.RecordSpending(ctx, provider, info.CostOrZero(), info.TotalTokens, convID)
	if spend.Warning {
		s.publish(events.BudgetWarning, Update{Spend: &spend})
	}

	calls := s.dispatcher.Dispatch(ctx, tools.SelectToolCalls(resp.Content, resp.ToolCalls))
	for i := range calls {
		if calls[i].IsTerminal() {
			s.append(outcomeMessage(calls[i]))
		}
	}
	s.persist(ctx)

	s.publish(events.TurnCompleted, Update{Message: &reply, Budget: &breakdown, Spend: &spend})
	return &TurnResult{
		Message:   reply,
		Model:     model,
		Provider:  provider,
		TaskType:  task,
		Budget:    breakdown,
		Window:    window,
		Context:   smart,
		ToolCalls: calls,
		Spend:     spend,
	}, nil
}

func (s *Session) request(ctx context.Context, client llm.Client, req llm.Request) (*llm.Response, error) {
	if !s.stream {
		return client.Complete(ctx, req)
	}

	sub, err := client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.CollectStream(ctx, sub, func(delta string) {
		s.publish(events.StreamDelta, Update{Delta: delta})
	})
}

// Approve runs a pending tool call and folds its outcome into the conversation.
// It is refused while a turn is running.
func (s *Session) Approve(ctx context.Context, id string) (tools.AgentToolCall, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return tools.AgentToolCall{}, ErrTurnInProgress
	}
	defer s.busy.Store(false)

	call, err := s.dispatcher.Approve(ctx, id)
	if err != nil {
		return call, err
	}
	s.append(outcomeMessage(call))
	s.persist(ctx)
	return call, nil
}

// Reject declines a pending tool call and records the refusal in the conversation
func (s *Session) Reject(ctx context.Context, id string) (tools.AgentToolCall, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return tools.AgentToolCall{}, ErrTurnInProgress
	}
	defer s.busy.Store(false)

	call, err := s.dispatcher.Reject(id)
	if err != nil {
		return call, err
	}
	s.append(outcomeMessage(call))
	s.persist(ctx)
	return call, nil
}

// Pending returns the tool calls awaiting approval
func (s *Session) Pending() []tools.AgentToolCall {
	return s.dispatcher.Pending()
}

// Streaming reports whether replies are streamed as stream delta events
func (s *Session) Streaming() bool {
	return s.stream
}

// ToolDefinitions returns the tools and macros offered to the model
func (s *Session) ToolDefinitions() []tools.Definition {
	return s.dispatcher.Definitions()
}

// Messages returns a copy of the active conversation line
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return append([]llm.Message(nil), s.conv.ActiveMessages()...)
}

// ConversationID returns the id of the current conversation, or "" before the first turn
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

// Summary returns the listing view of the current conversation
func (s *Session) Summary() (storage.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return storage.ConversationSummary{}, false
	}
	return s.conv.Summary(), true
}

// Resume continues a stored conversation
func (s *Session) Resume(ctx context.Context, id string) error {
	if s.store == nil {
		return errors.New("no conversation store configured")
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	s.discardPending()
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()
	return nil
}

// Reset starts a new conversation on the next turn
func (s *Session) Reset() {
	s.discardPending()
	s.mu.Lock()
	s.conv = nil
	s.mu.Unlock()
}

// Fork branches the conversation at messageID and continues on the branch
func (s *Session) Fork(ctx context.Context, messageID, name string) (storage.Branch, error) {
	if len(s.dispatcher.Pending()) > 0 {
		return storage.Branch{}, ErrToolCallsPending
	}
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return storage.Branch{}, errors.New("no conversation to fork")
	}
	branch, err := s.conv.Fork(messageID, name)
	var out storage.Branch
	if err == nil {
		out = *branch
		s.conv.Refresh()
	}
	s.mu.Unlock()

	if err != nil {
		return storage.Branch{}, err
	}
	s.persist(ctx)
	return out, nil
}

// SwitchBranch activates a branch; an empty id returns to the main line
func (s *Session) SwitchBranch(ctx context.Context, branchID string) error {
	if len(s.dispatcher.Pending()) > 0 {
		return ErrToolCallsPending
	}
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return errors.New("no conversation")
	}
	err := s.conv.SwitchBranch(branchID)
	if err == nil {
		s.conv.Refresh()
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.persist(ctx)
	return nil
}

// discardPending rejects calls that belong to a conversation being left behind
func (s *Session) discardPending() {
	for _, call := range s.dispatcher.Pending() {
		_, _ = s.dispatcher.Reject(call.ID)
	}
}

// append adds messages to the active line, starting a conversation on first use,
// and returns the conversation id
func (s *Session) append(msgs ...llm.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv == nil {
		s.conv = storage.NewConversation(msgs[0].Content)
	}
	active := append(append([]llm.Message(nil), s.conv.ActiveMessages()...), msgs...)
	s.conv.SetActiveMessages(active)
	return s.conv.ID
}

func (s *Session) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return
	}
	if err := s.store.SaveConversation(ctx, s.conv); err != nil {
		log.Warn("Failed to save conversation", "id", s.conv.ID, "err", err)
	}
}

func (s *Session) publish(t events.EventType, u Update, opts ...events.PublishOption) {
	if s.broker == nil {
		return
	}
	u.ConversationID = s.ConversationID()
	s.broker.Publish(t, u, append(opts, events.WithSessionID(u.ConversationID))...)
}

func (s *Session) onToolCall(call tools.AgentToolCall) {
	if s.audit != nil {
		err := s.audit.Record("tool_call",
			"conversation", s.ConversationID(),
			"id", call.ID,
			"tool", call.ToolName,
			"status", string(call.Status),
			"error", call.Error,
		)
		if err != nil {
			log.Warn("Failed to write audit record", "err", err)
		}
	}
	s.publish(events.ToolCallUpdated, Update{Call: &call})
}

func (s *Session) projectInstructions(ctx context.Context) string {
	s.instructionsOnce.Do(func() {
		if s.cfg.WorkingDir == "" {
			return
		}
		text, err := prompt.LoadProjectInstructions(ctx, s.cfg.WorkingDir, s.cfg.Context.ContextPaths)
		if err != nil {
			log.Warn("Failed to load project instructions", "err", err)
			return
		}
		s.instructions = text
	})
	return s.instructions
}

func (s *Session) maxOutputTokens(model string) int {
	opts, err := s.cfg.ProviderOptions(model)
	if err != nil || opts.MaxTokens <= 0 {
		return config.MaxTokensFallbackDefault
	}
	return opts.MaxTokens
}

func outcomeMessage(call tools.AgentToolCall) llm.Message {
	return llm.NewMessage(llm.RoleAssistant, tools.FormatCallOutcome(call))
}

func toolSpecs(defs []tools.Definition) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(defs))
	for _, d := range defs {
		name, description, schema := d.Spec()
		specs = append(specs, llm.ToolSpec{Name: name, Description: description, Parameters: schema})
	}
	return specs
}
