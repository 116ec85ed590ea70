package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

// TokenEstimateRequest asks for the token count of a text
type TokenEstimateRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// TokenEstimateResponse carries both the heuristic estimate and the counter's answer
type TokenEstimateResponse struct {
	Estimated int    `json:"estimated"`
	Counted   int    `json:"counted"`
	Method    string `json:"method"`
	Model     string `json:"model"`
}

// TokenBudgetRequest describes the parts of a prospective request
type TokenBudgetRequest struct {
	Model                string `json:"model,omitempty"`
	ModelMaxTokens       int    `json:"model_max_tokens,omitempty"`
	SystemPromptTokens   int    `json:"system_prompt_tokens"`
	ContextTokens        int    `json:"context_tokens"`
	HistoryTokens        int    `json:"history_tokens"`
	CurrentMessageTokens int    `json:"current_message_tokens"`
}

// WindowRequest asks which history fits beside the fixed parts of a request
type WindowRequest struct {
	Model                string                            `json:"model,omitempty"`
	ModelMaxTokens       int                               `json:"model_max_tokens,omitempty"`
	Messages             []contextmgmt.ConversationMessage `json:"messages"`
	SystemPromptTokens   int                               `json:"system_prompt_tokens"`
	ContextTokens        int                               `json:"context_tokens"`
	CurrentMessageTokens int                               `json:"current_message_tokens"`
}

// TaskRouteResponse is the detected task type and the model it routes to
type TaskRouteResponse struct {
	TaskType contextmgmt.TaskType `json:"task_type"`
	Model    string               `json:"model"`
	Provider string               `json:"provider"`
}

func (s *Server) handleEstimateTokens(w http.ResponseWriter, r *http.Request) {
	var req TokenEstimateRequest
	if !decode(w, r, &req) {
		return
	}
	model := s.modelOrDefault(req.Model)
	counted := s.app.Counter.CountWithMetadata(req.Text, model)
	writeJSON(w, TokenEstimateResponse{
		Estimated: contextmgmt.EstimateTokens(req.Text),
		Counted:   counted.Count,
		Method:    counted.Method,
		Model:     model,
	})
}

func (s *Server) handleTokenBudget(w http.ResponseWriter, r *http.Request) {
	var req TokenBudgetRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, contextmgmt.ComputeTokenBudget(
		s.contextWindow(req.Model, req.ModelMaxTokens),
		req.SystemPromptTokens,
		req.ContextTokens,
		req.HistoryTokens,
		req.CurrentMessageTokens,
	))
}

func (s *Server) handleMessageWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, contextmgmt.BuildMessageWindow(contextmgmt.WindowInput{
		Messages:             req.Messages,
		SystemPromptTokens:   req.SystemPromptTokens,
		ContextTokens:        req.ContextTokens,
		CurrentMessageTokens: req.CurrentMessageTokens,
		ModelMaxTokens:       s.contextWindow(req.Model, req.ModelMaxTokens),
	}))
}

func (s *Server) handleDetectTaskType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decode(w, r, &req) {
		return
	}
	route := TaskRouteResponse{TaskType: contextmgmt.DetectTaskType(req.Prompt)}
	route.Model = s.app.Config.RouteModel(route.TaskType)
	route.Provider, _ = providers.DetermineProvider(route.Model)
	writeJSON(w, route)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.app.Registry.Definitions())
}

func (s *Server) handleParseToolCalls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}
	calls := tools.ParseToolCalls(req.Content)
	if calls == nil {
		calls = []tools.ParsedToolCall{}
	}
	writeJSON(w, calls)
}

func (s *Server) handleSpend(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.app.Tracker.MonthlySpending())
}

func (s *Server) handleResetSpend(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if err := s.app.Tracker.ResetProviderSpending(r.Context(), provider); err != nil {
		writeError(w, "Failed to reset spending: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, s.app.Tracker.Budgets())
		return
	}

	var budgets []budget.ProviderBudget
	if !decode(w, r, &budgets) {
		return
	}
	for _, b := range budgets {
		if b.ProviderID == "" || b.MonthlyLimitUSD < 0 {
			writeError(w, "Each budget needs a provider_id and a non-negative monthly_limit_usd", http.StatusBadRequest)
			return
		}
	}
	if err := s.app.Tracker.SaveBudgets(r.Context(), budgets); err != nil {
		writeError(w, "Failed to save budgets: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.app.Tracker.Budgets())
}

func (s *Server) handleCheckBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.app.Tracker.CheckBudget(mux.Vars(r)["provider"]))
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.app.Limiter.Check(mux.Vars(r)["provider"]))
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.app.Store.LoadConversations(r.Context())
	if err != nil {
		writeError(w, "Failed to load conversations: "+err.Error(), http.StatusInternalServerError)
		return
	}
	summaries := make([]storage.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, conv.Summary())
	}
	writeJSON(w, summaries)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if r.Method == http.MethodDelete {
		err := s.app.Store.DeleteConversation(r.Context(), id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeError(w, "Failed to delete conversation: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	conv, err := s.app.Store.GetConversation(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to load conversation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, conv)
}

// decode reads a JSON body into v, answering 400 when it cannot
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) modelOrDefault(model string) string {
	if model == "" {
		return s.app.Config.Model
	}
	return model
}

// contextWindow prefers an explicit limit over the model's configured window
func (s *Server) contextWindow(model string, explicit int) int {
	if explicit > 0 {
		return explicit
	}
	return s.app.Config.GetModelConfig(s.modelOrDefault(model)).ContextWindow
}
