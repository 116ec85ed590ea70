package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

type fakeClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	stream    func(sub *llm.Subscription)
	requests  []llm.Request
}

func (f *fakeClient) Provider() string { return "anthropic" }

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.Response{Content: "ok", InputTokens: 10, OutputTokens: 2}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	sub := llm.NewSubscription(ctx)
	go f.stream(sub)
	return sub, nil
}

func (f *fakeClient) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

type sessionFixture struct {
	session *Session
	client  *fakeClient
	store   *storage.MemoryStore
	tracker *budget.Tracker
	broker  *events.Broker[Update]
}

func newFixture(t *testing.T, mutate func(*Options)) *sessionFixture {
	t.Helper()

	client := &fakeClient{}
	store := storage.NewMemoryStore()
	tracker := budget.NewTracker(store)
	broker := events.NewBroker[Update]()
	t.Cleanup(broker.Shutdown)

	registry := tools.NewRegistry(
		tools.NewFuncTool(tools.Definition{Name: "peek", Description: "Look", DangerLevel: tools.DangerSafe},
			func(context.Context, map[string]any) (any, error) { return tools.MessageResult{Message: "looked"}, nil }),
		tools.NewFuncTool(tools.Definition{Name: "wipe", Description: "Delete", DangerLevel: tools.DangerHigh},
			func(context.Context, map[string]any) (any, error) { return tools.MessageResult{Message: "wiped"}, nil }),
	)

	opts := Options{
		Config:         &config.Config{Model: "claude-sonnet-4", Temperature: 0.7, MaxTokens: 4096},
		Clients:        func(string) (llm.Client, error) { return client, nil },
		Tracker:        tracker,
		Store:          store,
		Registry:       registry,
		Broker:         broker,
		ToolRetryDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)

	return &sessionFixture{session: s, client: client, store: store, tracker: tracker, broker: broker}
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	_, err := NewSession(Options{})
	assert.Error(t, err)

	_, err = NewSession(Options{Config: &config.Config{}})
	assert.Error(t, err)
}

func TestSendRecordsReplyAndSpend(t *testing.T) {
	f := newFixture(t, nil)
	f.client.responses = []*llm.Response{{Content: "Hello there", InputTokens: 1000, OutputTokens: 500}}

	result, err := f.session.Send(context.Background(), TurnInput{Text: "say hello"})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", result.Model)
	assert.Equal(t, "anthropic", result.Provider)
	assert.Equal(t, contextmgmt.BudgetModeFull, result.Budget.Mode)
	require.NotNil(t, result.Message.TokenInfo)
	require.NotNil(t, result.Message.TokenInfo.Cost)
	assert.InDelta(t, 0.0105, *result.Message.TokenInfo.Cost, 1e-9)
	assert.Equal(t, "claude-sonnet-4", result.Message.ModelInfo.ModelName)

	msgs := f.session.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)

	cost, ok := f.tracker.ConversationCost(f.session.ConversationID())
	require.True(t, ok)
	assert.InDelta(t, 0.0105, cost.TotalCost, 1e-9)
	assert.InDelta(t, 0.0105, f.tracker.CheckBudget("anthropic").CurrentSpend, 1e-9)

	saved, err := f.store.GetConversation(context.Background(), f.session.ConversationID())
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 2)
	assert.Equal(t, "say hello", saved.Title)

	req := f.client.Requests()[0]
	assert.Equal(t, "claude-sonnet-4", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "say hello", req.Messages[0].Content)
	assert.NotEmpty(t, req.Tools)
	assert.Contains(t, req.SystemPrompt, "peek")
}

func TestSendCarriesHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.session.Send(ctx, TurnInput{Text: "first"})
	require.NoError(t, err)
	_, err = f.session.Send(ctx, TurnInput{Text: "second"})
	require.NoError(t, err)

	reqs := f.client.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "first", reqs[1].Messages[0].Content)
	assert.Equal(t, llm.RoleAssistant, reqs[1].Messages[1].Role)
	assert.Equal(t, "second", reqs[1].Messages[2].Content)
	assert.Len(t, f.session.Messages(), 4)
}

func TestSendEstimatesUsageWhenProviderReportsNone(t *testing.T) {
	f := newFixture(t, nil)
	f.client.responses = []*llm.Response{{Content: "no usage reported here"}}

	result, err := f.session.Send(context.Background(), TurnInput{Text: "hello"})
	require.NoError(t, err)

	info := result.Message.TokenInfo
	require.NotNil(t, info)
	assert.Equal(t, contextmgmt.EstimateTokens("no usage reported here"), info.OutputTokens)
	assert.Positive(t, info.InputTokens)
}

func TestSendEmptyInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.session.Send(context.Background(), TurnInput{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.client.Requests())
}

func TestSendExpandsSlashTemplates(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.session.Send(context.Background(), TurnInput{Text: "/review func x() {}"})
	require.NoError(t, err)

	req := f.client.Requests()[0]
	last := req.Messages[len(req.Messages)-1].Content
	assert.Contains(t, last, "Review the following code")
	assert.Contains(t, last, "func x() {}")
}

func TestSendBlockedByHardStopBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.tracker.SetBudgets([]budget.ProviderBudget{{ProviderID: "anthropic", MonthlyLimitUSD: 1, HardStop: true}})
	_, err := f.tracker.RecordSpending(ctx, "anthropic", 1.5, 100, "")
	require.NoError(t, err)

	failed := f.broker.Subscribe(ctx, events.FilterByType(events.TurnFailed))

	_, err = f.session.Send(ctx, TurnInput{Text: "anything"})
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Empty(t, f.client.Requests())
	assert.Empty(t, f.session.Messages())

	select {
	case ev := <-failed:
		require.NotNil(t, ev.Payload.Spend)
		assert.False(t, ev.Payload.Spend.Allowed)
	case <-time.After(time.Second):
		t.Fatal("expected a turn failed event")
	}
}

func TestSendProviderError(t *testing.T) {
	f := newFixture(t, nil)
	f.client.err = errors.New("boom")

	_, err := f.session.Send(context.Background(), TurnInput{Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic request failed")

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSendDispatchesToolCalls(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.client.responses = []*llm.Response{{
		Content:      "TOOL: peek\nARGS: {}\n\nTOOL: wipe\nARGS: {\"path\": \"x\"}",
		InputTokens:  10,
		OutputTokens: 10,
	}}

	result, err := f.session.Send(ctx, TurnInput{Text: "clean up"})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, tools.StatusCompleted, result.ToolCalls[0].Status)
	assert.Equal(t, tools.StatusPending, result.ToolCalls[1].Status)

	msgs := f.session.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, "Tool `peek` completed")

	pending := f.session.Pending()
	require.Len(t, pending, 1)

	call, err := f.session.Approve(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tools.StatusCompleted, call.Status)

	msgs = f.session.Messages()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[3].Content, "Tool `wipe` completed")
	assert.Empty(t, f.session.Pending())

	_, err = f.session.Approve(ctx, pending[0].ID)
	assert.Error(t, err)
}

func TestRejectRecordsRefusal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.client.responses = []*llm.Response{{Content: "TOOL: wipe\nARGS: {\"path\": \"x\"}", InputTokens: 1, OutputTokens: 1}}

	result, err := f.session.Send(ctx, TurnInput{Text: "clean up"})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)

	call, err := f.session.Reject(ctx, result.ToolCalls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tools.StatusRejected, call.Status)

	msgs := f.session.Messages()
	assert.Contains(t, msgs[len(msgs)-1].Content, "rejected")
}

func TestSendWaitsForPendingToolCalls(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.client.responses = []*llm.Response{{Content: "TOOL: wipe\nARGS: {\"path\": \"x\"}", InputTokens: 1, OutputTokens: 1}}

	result, err := f.session.Send(ctx, TurnInput{Text: "clean up"})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)

	_, err = f.session.Send(ctx, TurnInput{Text: "something else"})
	assert.ErrorIs(t, err, ErrToolCallsPending)
	assert.Len(t, f.session.Messages(), 2)
	assert.Len(t, f.client.Requests(), 1)

	_, err = f.session.Approve(ctx, result.ToolCalls[0].ID)
	require.NoError(t, err)

	_, err = f.session.Send(ctx, TurnInput{Text: "something else"})
	require.NoError(t, err)

	msgs := f.session.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "clean up", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "TOOL: wipe")
	assert.Contains(t, msgs[2].Content, "Tool `wipe` completed")
	assert.Equal(t, "something else", msgs[3].Content)
	assert.Equal(t, "ok", msgs[4].Content)
}

func TestApprovalRefusedDuringTurn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.client.responses = []*llm.Response{{Content: "TOOL: wipe\nARGS: {}", InputTokens: 1, OutputTokens: 1}}

	result, err := f.session.Send(ctx, TurnInput{Text: "clean up"})
	require.NoError(t, err)
	id := result.ToolCalls[0].ID

	f.session.busy.Store(true)
	_, err = f.session.Approve(ctx, id)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	_, err = f.session.Reject(ctx, id)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	f.session.busy.Store(false)

	require.Len(t, f.session.Pending(), 1)
	assert.Len(t, f.session.Messages(), 2)
}

func TestResetDiscardsPendingToolCalls(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.client.responses = []*llm.Response{{Content: "TOOL: wipe\nARGS: {}", InputTokens: 1, OutputTokens: 1}}

	_, err := f.session.Send(ctx, TurnInput{Text: "clean up"})
	require.NoError(t, err)

	_, err = f.session.Fork(ctx, f.session.Messages()[0].ID, "alt")
	assert.ErrorIs(t, err, ErrToolCallsPending)

	f.session.Reset()
	assert.Empty(t, f.session.Pending())

	_, err = f.session.Send(ctx, TurnInput{Text: "fresh start"})
	require.NoError(t, err)
	assert.Len(t, f.session.Messages(), 2)
}

func TestSendStreams(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Stream = true })
	f.client.stream = func(sub *llm.Subscription) {
		defer sub.Close()
		sub.Send(llm.StreamEvent{ContentDelta: "Hel"})
		sub.Send(llm.StreamEvent{ContentDelta: "lo"})
		sub.Send(llm.StreamEvent{Done: true, InputTokens: 1000, OutputTokens: 500})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deltas := f.broker.Subscribe(ctx, events.FilterByType(events.StreamDelta))

	result, err := f.session.Send(ctx, TurnInput{Text: "greet me"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Message.Content)
	assert.InDelta(t, 0.0105, result.Message.TokenInfo.CostOrZero(), 1e-9)

	var got string
	for got != "Hello" {
		select {
		case ev := <-deltas:
			got += ev.Payload.Delta
		case <-time.After(time.Second):
			t.Fatalf("missing deltas, got %q", got)
		}
	}
}

func TestSendCancelledStreamKeepsOnlyUserMessage(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Stream = true })
	f.client.stream = func(sub *llm.Subscription) {
		sub.Send(llm.StreamEvent{ContentDelta: "TOOL: wipe\nARGS: {}"})
		sub.Cancel()
	}

	_, err := f.session.Send(context.Background(), TurnInput{Text: "stop soon"})
	assert.ErrorIs(t, err, llm.ErrCancelled)

	msgs := f.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Empty(t, f.session.Pending())

	spend := f.tracker.CheckBudget("anthropic")
	assert.Zero(t, spend.CurrentSpend)
}

func TestForkAndSwitchBranch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.session.Send(ctx, TurnInput{Text: "first"})
	require.NoError(t, err)
	_, err = f.session.Send(ctx, TurnInput{Text: "second"})
	require.NoError(t, err)

	msgs := f.session.Messages()
	require.Len(t, msgs, 4)

	branch, err := f.session.Fork(ctx, msgs[1].ID, "alt")
	require.NoError(t, err)
	assert.Equal(t, "alt", branch.Name)
	assert.Len(t, f.session.Messages(), 2)

	_, err = f.session.Send(ctx, TurnInput{Text: "other path"})
	require.NoError(t, err)
	assert.Len(t, f.session.Messages(), 4)

	require.NoError(t, f.session.SwitchBranch(ctx, ""))
	mainLine := f.session.Messages()
	require.Len(t, mainLine, 4)
	assert.Equal(t, "second", mainLine[2].Content)
}

func TestResumeAndReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.session.Send(ctx, TurnInput{Text: "remember me"})
	require.NoError(t, err)
	id := f.session.ConversationID()

	f.session.Reset()
	assert.Empty(t, f.session.ConversationID())
	assert.Empty(t, f.session.Messages())

	require.NoError(t, f.session.Resume(ctx, id))
	assert.Len(t, f.session.Messages(), 2)

	assert.ErrorIs(t, f.session.Resume(ctx, "conv-missing"), storage.ErrNotFound)
}
