package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

var feb = time.Date(2026, time.February, 14, 10, 0, 0, 0, time.UTC)

func TestCheckBudget_NoBudgetIsUnlimited(t *testing.T) {
	tracker := NewTracker(nil, fixedClock(feb))
	res, err := tracker.RecordSpending(context.Background(), "openai", 12.5, 1000, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 12.5, res.CurrentSpend)
	assert.Zero(t, res.Limit)
	assert.False(t, res.Warning)
	assert.NoError(t, res.Err())
}

func TestCheckBudget_WarningAndHardStop(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(nil, fixedClock(feb))
	require.NoError(t, tracker.SaveBudgets(ctx, []ProviderBudget{
		{ProviderID: "anthropic", MonthlyLimitUSD: 10, WarningThreshold: 80, HardStop: true},
		{ProviderID: "openai", MonthlyLimitUSD: 10, HardStop: false},
	}))

	res, _ := tracker.RecordSpending(ctx, "anthropic", 7.9, 100, "c1")
	assert.True(t, res.Allowed)
	assert.False(t, res.Warning)
	assert.Equal(t, 79, res.PercentUsed)

	res, _ = tracker.RecordSpending(ctx, "anthropic", 0.5, 100, "c1")
	assert.True(t, res.Warning)
	assert.Equal(t, "Budget warning: $8.40 of $10.00 used (84%)", res.Message)

	res, _ = tracker.RecordSpending(ctx, "anthropic", 2, 100, "c1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 100, res.PercentUsed)
	assert.Equal(t, "Monthly budget exhausted ($10.40 / $10.00). Increase your limit in AI Settings.", res.Message)
	assert.ErrorIs(t, res.Err(), ErrBudgetExceeded)
	assert.False(t, tracker.CheckBudget("anthropic").Allowed)

	// Without hard stop the request goes through with a warning
	res, _ = tracker.RecordSpending(ctx, "openai", 15, 100, "")
	assert.True(t, res.Allowed)
	assert.True(t, res.Warning)
	assert.Equal(t, "Budget warning: $15.00 of $10.00 used (150%)", res.Message)

	cc, ok := tracker.ConversationCost("c1")
	require.True(t, ok)
	assert.Equal(t, 3, cc.RequestCount)
	assert.Equal(t, 300, cc.TotalTokens)
	assert.InDelta(t, 10.4, cc.TotalCost, 1e-9)
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tracker := NewTracker(store, fixedClock(feb))
	require.NoError(t, tracker.SaveBudgets(ctx, []ProviderBudget{{ProviderID: "gemini", MonthlyLimitUSD: 5, HardStop: true}}))
	_, err := tracker.RecordSpending(ctx, "gemini", 1.25, 400, "")
	require.NoError(t, err)
	_, err = tracker.RecordSpending(ctx, "anthropic", 0.75, 100, "")
	require.NoError(t, err)

	raw, err := store.Get(ctx, "ai_spending_2026-02")
	require.NoError(t, err)
	assert.Contains(t, raw, `"provider_id":"gemini"`)

	reloaded := NewTracker(store, fixedClock(feb))
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.Budgets(), 1)
	records := reloaded.MonthlySpending()
	require.Len(t, records, 2)
	assert.Equal(t, "anthropic", records[0].ProviderID)
	assert.Equal(t, 1.25, records[1].TotalCost)
	assert.Equal(t, 400, records[1].TokenCount)

	require.NoError(t, reloaded.ResetProviderSpending(ctx, "gemini"))
	assert.Len(t, reloaded.MonthlySpending(), 1)

	// A new month starts from zero
	march := NewTracker(store, fixedClock(feb.AddDate(0, 1, 0)))
	require.NoError(t, march.Load(ctx))
	assert.Empty(t, march.MonthlySpending())
}

type failingStore struct{ storage.KVStore }

func (failingStore) Set(context.Context, string, string) error { return errors.New("vault locked") }

func TestRecordSpending_PersistFailureKeepsMemory(t *testing.T) {
	tracker := NewTracker(failingStore{storage.NewMemoryStore()}, fixedClock(feb))
	res, err := tracker.RecordSpending(context.Background(), "openai", 1, 10, "")
	assert.Error(t, err)
	assert.Equal(t, 1.0, res.CurrentSpend)
	assert.Len(t, tracker.MonthlySpending(), 1)
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		cost float64
		want string
	}{
		{0, "$0.00"},
		{0.00042, "$0.00042"},
		{0.0042, "$0.0042"},
		{0.42, "$0.420"},
		{4.2, "$4.20"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCost(tt.cost))
	}
}
