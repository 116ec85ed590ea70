package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

const (
	// DefaultWarningThreshold is the percentage of the limit at which warnings start
	DefaultWarningThreshold = 80

	budgetConfigKey = "ai_budget_config"
	spendingPrefix  = "ai_spending_"
	monthLayout     = "2006-01"
)

// ErrBudgetExceeded is returned when a hard-stop budget is exhausted
var ErrBudgetExceeded = errors.New("budget exceeded")

// ProviderBudget is the monthly spending limit for one provider. A zero limit means unlimited.
type ProviderBudget struct {
	ProviderID       string  `json:"provider_id" toml:"provider_id"`
	MonthlyLimitUSD  float64 `json:"monthly_limit_usd" toml:"monthly_limit_usd"`
	WarningThreshold float64 `json:"warning_threshold" toml:"warning_threshold"`
	HardStop         bool    `json:"hard_stop" toml:"hard_stop"`
}

// SpendingRecord is one provider's spending in one month
type SpendingRecord struct {
	ProviderID   string  `json:"provider_id"`
	Month        string  `json:"month"`
	TotalCost    float64 `json:"total_cost"`
	RequestCount int     `json:"request_count"`
	TokenCount   int     `json:"token_count"`
}

// ConversationCost accumulates spending for one conversation
type ConversationCost struct {
	ConversationID string    `json:"conversation_id"`
	TotalCost      float64   `json:"total_cost"`
	TotalTokens    int       `json:"total_tokens"`
	RequestCount   int       `json:"request_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// CheckResult is the outcome of a budget check
type CheckResult struct {
	Allowed      bool    `json:"allowed"`
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	PercentUsed  int     `json:"percent_used"`
	Warning      bool    `json:"warning"`
	Message      string  `json:"message,omitempty"`
}

// Err returns ErrBudgetExceeded carrying the message when the request is refused
func (r CheckResult) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBudgetExceeded, r.Message)
}

// Tracker owns provider budgets, monthly spending and per-conversation costs
type Tracker struct {
	mu            sync.Mutex
	store         storage.KVStore
	now           func() time.Time
	budgets       []ProviderBudget
	spending      map[string]*SpendingRecord
	conversations map[string]*ConversationCost
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the time source used to pick the current month
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker persisting to store. A nil store keeps everything in memory.
func NewTracker(store storage.KVStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:         store,
		now:           time.Now,
		spending:      make(map[string]*SpendingRecord),
		conversations: make(map[string]*ConversationCost),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load reads the budget configuration and the current month's spending from the store.
// Missing keys are not an error.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var budgets []ProviderBudget
	if err := t.read(ctx, budgetConfigKey, &budgets); err != nil {
		return err
	}
	t.budgets = budgets

	month := t.month()
	var records []SpendingRecord
	if err := t.read(ctx, spendingPrefix+month, &records); err != nil {
		return err
	}
	for i := range records {
		r := records[i]
		t.spending[spendingKey(r.ProviderID, r.Month)] = &r
	}
	return nil
}

// CheckBudget reports whether provider may be used given its budget and this month's spend
func (t *Tracker) CheckBudget(providerID string) CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(providerID)
}

// RecordSpending adds a completed request to the provider's monthly totals and to the
// conversation's totals, persists the month, and returns the updated budget check.
// A persistence failure is returned alongside the still valid check.
func (t *Tracker) RecordSpending(ctx context.Context, providerID string, cost float64, tokens int, conversationID string) (CheckResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	month := now.Format(monthLayout)
	key := spendingKey(providerID, month)

	record, ok := t.spending[key]
	if !ok {
		record = &SpendingRecord{ProviderID: providerID, Month: month}
		t.spending[key] = record
	}
	record.TotalCost += cost
	record.RequestCount++
	record.TokenCount += tokens

	if conversationID != "" {
		cc, ok := t.conversations[conversationID]
		if !ok {
			cc = &ConversationCost{ConversationID: conversationID}
			t.conversations[conversationID] = cc
		}
		cc.TotalCost += cost
		cc.TotalTokens += tokens
		cc.RequestCount++
		cc.LastUpdated = now
	}

	err := t.persistMonthLocked(ctx, month)
	if err != nil {
		log.Warn("spending not persisted, tracking in memory only", "err", err)
	}
	return t.checkLocked(providerID), err
}

// ConversationCost returns the accumulated cost of a conversation
func (t *Tracker) ConversationCost(conversationID string) (ConversationCost, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cc, ok := t.conversations[conversationID]
	if !ok {
		return ConversationCost{}, false
	}
	return *cc, true
}

// MonthlySpending returns this month's records for every provider, ordered by provider
func (t *Tracker) MonthlySpending() []SpendingRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.monthRecordsLocked(t.month())
}

// Budgets returns a copy of the budget configuration
func (t *Tracker) Budgets() []ProviderBudget {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ProviderBudget(nil), t.budgets...)
}

// SetBudgets replaces the budget configuration without persisting it
func (t *Tracker) SetBudgets(budgets []ProviderBudget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgets = append([]ProviderBudget(nil), budgets...)
}

// SaveBudgets replaces and persists the budget configuration
func (t *Tracker) SaveBudgets(ctx context.Context, budgets []ProviderBudget) error {
	t.SetBudgets(budgets)
	if t.store == nil {
		return nil
	}

	data, err := json.Marshal(budgets)
	if err != nil {
		return fmt.Errorf("failed to encode budgets: %w", err)
	}
	if err := t.store.Set(ctx, budgetConfigKey, string(data)); err != nil {
		return fmt.Errorf("failed to save budgets: %w", err)
	}
	return nil
}

// ResetProviderSpending clears the provider's spending for the current month
func (t *Tracker) ResetProviderSpending(ctx context.Context, providerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	month := t.month()
	delete(t.spending, spendingKey(providerID, month))
	return t.persistMonthLocked(ctx, month)
}

func (t *Tracker) checkLocked(providerID string) CheckResult {
	current := 0.0
	if r, ok := t.spending[spendingKey(providerID, t.month())]; ok {
		current = r.TotalCost
	}

	cfg, ok := t.budgetLocked(providerID)
	if !ok || cfg.MonthlyLimitUSD <= 0 {
		return CheckResult{Allowed: true, CurrentSpend: current}
	}

	threshold := cfg.WarningThreshold
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}

	percent := current / cfg.MonthlyLimitUSD * 100
	result := CheckResult{
		Allowed:      true,
		CurrentSpend: current,
		Limit:        cfg.MonthlyLimitUSD,
		PercentUsed:  int(math.Min(100, math.Round(percent))),
		Warning:      percent >= threshold,
	}

	if percent >= 100 && cfg.HardStop {
		result.Allowed = false
		result.Warning = true
		result.Message = fmt.Sprintf("Monthly budget exhausted ($%.2f / $%.2f). Increase your limit in AI Settings.",
			current, cfg.MonthlyLimitUSD)
		return result
	}

	if result.Warning {
		result.Message = fmt.Sprintf("Budget warning: $%.2f of $%.2f used (%d%%)",
			current, cfg.MonthlyLimitUSD, int(math.Round(percent)))
	}
	return result
}

func (t *Tracker) budgetLocked(providerID string) (ProviderBudget, bool) {
	for _, b := range t.budgets {
		if b.ProviderID == providerID {
			return b, true
		}
	}
	return ProviderBudget{}, false
}

func (t *Tracker) monthRecordsLocked(month string) []SpendingRecord {
	records := make([]SpendingRecord, 0, len(t.spending))
	for _, r := range t.spending {
		if r.Month == month {
			records = append(records, *r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProviderID < records[j].ProviderID })
	return records
}

func (t *Tracker) persistMonthLocked(ctx context.Context, month string) error {
	if t.store == nil {
		return nil
	}
	data, err := json.Marshal(t.monthRecordsLocked(month))
	if err != nil {
		return fmt.Errorf("failed to encode spending: %w", err)
	}
	return t.store.Set(ctx, spendingPrefix+month, string(data))
}

func (t *Tracker) read(ctx context.Context, key string, v any) error {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Warn("ignoring unreadable budget data", "key", key, "err", err)
	}
	return nil
}

func (t *Tracker) month() string {
	return t.now().Format(monthLayout)
}

func spendingKey(providerID, month string) string {
	return providerID + ":" + month
}

// FormatCost renders a dollar amount with more precision for small values
func FormatCost(cost float64) string {
	switch {
	case cost == 0:
		return "$0.00"
	case cost < 0.001:
		return fmt.Sprintf("$%.5f", cost)
	case cost < 0.01:
		return fmt.Sprintf("$%.4f", cost)
	case cost < 1:
		return fmt.Sprintf("$%.3f", cost)
	default:
		return fmt.Sprintf("$%.2f", cost)
	}
}
