package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--wd", t.TempDir()}, args...))
	t.Cleanup(func() {
		if logCloser != nil {
			_ = logCloser.Close()
			logCloser = nil
		}
	})

	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestTokensBudgetCommand(t *testing.T) {
	out := run(t, "", "tokens", "budget", "--max-tokens", "8192", "--system", "500", "--json")

	var b contextmgmt.TokenBudgetBreakdown
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, 8192, b.ModelMaxTokens)
	assert.Equal(t, 1229, b.ResponseBuffer)
	assert.Equal(t, contextmgmt.BudgetModeCompact, b.Mode)
	assert.Equal(t, 8192-500-1229, b.AvailableTokens)
}

func TestTokensWindowCommandReadsStdin(t *testing.T) {
	msgs := `[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"}]`
	out := run(t, msgs, "tokens", "window", "--max-tokens", "100000", "--json")

	var w contextmgmt.WindowResult
	require.NoError(t, json.Unmarshal([]byte(out), &w))
	assert.Len(t, w.Messages, 2)
	assert.Zero(t, w.ExcludedCount)
}

func TestToolsParseCommand(t *testing.T) {
	out := run(t, "TOOL: local_read\nARGS: {\"path\": \"go.mod\"}", "tools", "parse", "--json")

	var calls []tools.ParsedToolCall
	require.NoError(t, json.Unmarshal([]byte(out), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, "local_read", calls[0].Tool)
}
