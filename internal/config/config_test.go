package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
)

// isolate points HOME at an empty directory and clears provider keys
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, env := range providerEnvKeys {
		t.Setenv(env, "")
	}
	return t.TempDir()
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".chatforge.json"), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	wd := isolate(t)

	cfg, err := Load(wd, false)
	require.NoError(t, err)

	assert.Equal(t, wd, cfg.WorkingDir)
	assert.Equal(t, "", cfg.Model)
	assert.Equal(t, MaxTokensFallbackDefault, cfg.MaxTokens)
	assert.Equal(t, 20, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, 60, cfg.RateLimit.WindowSeconds)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, float64(80), cfg.Budget.WarningThreshold)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Contains(t, cfg.Context.ContextPaths, "AGENTS.md")
	assert.Empty(t, cfg.ConfigFileUsed())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)

	assert.Equal(t, 4000, cfg.ContextBudget(contextmgmt.BudgetModeFull))
	assert.Equal(t, 1500, cfg.ContextBudget(contextmgmt.BudgetModeCompact))
	assert.Equal(t, 500, cfg.ContextBudget(contextmgmt.BudgetModeMinimal))
}

func TestLoad_Debug(t *testing.T) {
	wd := isolate(t)

	cfg, err := Load(wd, true)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	wd := isolate(t)
	writeConfig(t, wd, `{
		"model": "claude-sonnet-4-20250514",
		"maxTokens": 2048,
		"providers": {"anthropic": {"apiKey": "file-key"}, "openai": {"disabled": true}},
		"models": {"my-local": {"contextWindow": 32000, "maxOutputTokens": 1000}},
		"routing": {"enabled": true, "rules": {"code_review": "gpt-4o", "quick_answer": "claude-3-5-haiku-latest"}},
		"rateLimit": {"requestsPerWindow": 5, "windowSeconds": 10},
		"context": {"budgets": {"full": 6000}}
	}`)
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load(wd, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, ".chatforge.json"), cfg.ConfigFileUsed())

	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, 6000, cfg.ContextBudget(contextmgmt.BudgetModeFull))

	t.Run("file keys win over environment", func(t *testing.T) {
		assert.Equal(t, "file-key", cfg.Providers["anthropic"].APIKey)
		assert.Equal(t, "gemini-key", cfg.Providers["gemini"].APIKey)
	})

	t.Run("model overrides", func(t *testing.T) {
		mc := cfg.GetModelConfig("my-local")
		assert.Equal(t, 32000, mc.ContextWindow)
		assert.Nil(t, mc.Cost())
	})

	t.Run("routing", func(t *testing.T) {
		// openai is disabled, so the rule is ignored
		assert.Equal(t, cfg.Model, cfg.RouteModel(contextmgmt.TaskCodeReview))
		assert.Equal(t, "claude-3-5-haiku-latest", cfg.RouteModel(contextmgmt.TaskQuickAnswer))
		assert.Equal(t, cfg.Model, cfg.RouteModel(contextmgmt.TaskGeneral))
	})

	t.Run("provider options", func(t *testing.T) {
		opts, err := cfg.ProviderOptions("")
		require.NoError(t, err)
		assert.Equal(t, providers.ProviderAnthropic, opts.Provider)
		assert.Equal(t, "file-key", opts.APIKey)
		assert.Equal(t, 2048, opts.MaxTokens)

		_, err = cfg.ProviderOptions("gpt-4o")
		assert.ErrorIs(t, err, ErrProviderDisabled)
	})
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	wd := isolate(t)
	t.Setenv("CHATFORGE_MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(wd, false)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
}

func TestLoad_DefaultModelFromProvider(t *testing.T) {
	wd := isolate(t)
	t.Setenv("GEMINI_API_KEY", "g")

	cfg, err := Load(wd, false)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
}

func TestLoad_InvalidFile(t *testing.T) {
	wd := isolate(t)
	writeConfig(t, wd, `{"model": `)

	_, err := Load(wd, false)
	assert.Error(t, err)
}

func TestGetModelConfig_Defaults(t *testing.T) {
	cfg := &Config{}

	tests := []struct {
		model         string
		contextWindow int
		inputCost     float64
	}{
		{"claude-sonnet-4-20250514", 200000, 0.003},
		{"gpt-4o-mini", 128000, 0.00015},
		{"gpt-4o", 128000, 0.0025},
		{"gpt-4", 8192, 0.03},
		{"gemini-2.5-pro", 1048576, 0.00125},
		{"something-else", 8192, 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			mc := cfg.GetModelConfig(tt.model)
			assert.Equal(t, tt.contextWindow, mc.ContextWindow)
			assert.Equal(t, tt.inputCost, mc.CostPer1KInput)
			require.NotNil(t, mc.Cost())
			assert.Equal(t, tt.inputCost, mc.Cost().InputCostPer1K)
		})
	}
}

func TestHasCredentials(t *testing.T) {
	cfg := &Config{Providers: map[string]Provider{
		"anthropic": {APIKey: "k"},
		"ollama":    {Disabled: true},
	}}
	assert.True(t, cfg.HasCredentials("anthropic"))
	assert.False(t, cfg.HasCredentials("openai"))
	assert.True(t, cfg.HasCredentials("lmstudio"))
	assert.False(t, cfg.HasCredentials("ollama"))
}

func TestProviderOptions_CapsMaxTokens(t *testing.T) {
	cfg := &Config{MaxTokens: 100000, Providers: map[string]Provider{"openai": {APIKey: "k"}}}

	opts, err := cfg.ProviderOptions("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, 16384, opts.MaxTokens)

	_, err = (&Config{}).ProviderOptions("")
	assert.Error(t, err)
}

func TestBudgets_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "budgets.toml")

	budgets, err := LoadBudgets(path)
	require.NoError(t, err)
	assert.Empty(t, budgets)

	want := []budget.ProviderBudget{
		{ProviderID: "anthropic", MonthlyLimitUSD: 25, WarningThreshold: 75, HardStop: true},
		{ProviderID: "openai", MonthlyLimitUSD: 10},
	}
	require.NoError(t, SaveBudgets(path, want))

	got, err := LoadBudgets(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg := &Config{Budget: BudgetConfig{File: path, WarningThreshold: 90}}
	withDefaults, err := cfg.LoadBudgets()
	require.NoError(t, err)
	require.Len(t, withDefaults, 2)
	assert.Equal(t, float64(75), withDefaults[0].WarningThreshold)
	assert.Equal(t, float64(90), withDefaults[1].WarningThreshold)
}

func TestLoadBudgets_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budgets.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[budget]\n"), 0644))

	_, err := LoadBudgets(path)
	assert.Error(t, err)
}

func TestBudgetWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budgets.toml")
	require.NoError(t, SaveBudgets(path, []budget.ProviderBudget{{ProviderID: "openai", MonthlyLimitUSD: 1}}))

	changes := make(chan []budget.ProviderBudget, 4)
	watcher, err := NewBudgetWatcher(path, func(b []budget.ProviderBudget) { changes <- b })
	require.NoError(t, err)
	watcher.SetDebounceDelay(20 * time.Millisecond)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	require.NoError(t, SaveBudgets(path, []budget.ProviderBudget{{ProviderID: "openai", MonthlyLimitUSD: 42}}))

	select {
	case got := <-changes:
		require.Len(t, got, 1)
		assert.Equal(t, float64(42), got[0].MonthlyLimitUSD)
	case <-time.After(5 * time.Second):
		t.Fatal("budget change not observed")
	}
}

func TestPathManager(t *testing.T) {
	wd := t.TempDir()
	cfg := &Config{WorkingDir: wd, Data: Data{Directory: ".chatforge"}}

	path, err := cfg.BudgetsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, ".chatforge", "budgets.toml"), path)
}
