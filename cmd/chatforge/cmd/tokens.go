package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(24)
	valueStyle = lipgloss.NewStyle().Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Token estimates, budgets and history windows",
}

var tokensEstimateCmd = &cobra.Command{
	Use:   "estimate [text]",
	Short: "Estimate the tokens in text (or stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := argsOrStdin(cmd, args)
		if err != nil {
			return err
		}
		m, _ := cmd.Flags().GetString("model")
		if m == "" {
			m = cfg.Model
		}
		counted := contextmgmt.NewTokenCounter(cfg.Context.ExactTokens).CountWithMetadata(text, m)

		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"estimated": contextmgmt.EstimateTokens(text),
				"counted":   counted.Count,
				"method":    counted.Method,
				"model":     m,
			})
		}
		out := cmd.OutOrStdout()
		row(out, "Estimated tokens", contextmgmt.EstimateTokens(text))
		row(out, fmt.Sprintf("Counted (%s)", counted.Method), counted.Count)
		return nil
	},
}

var tokensBudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Split a model's context window across a request",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		maxTokens := modelWindow(cmd)
		system, _ := flags.GetInt("system")
		ctxTokens, _ := flags.GetInt("context")
		history, _ := flags.GetInt("history")
		current, _ := flags.GetInt("current")

		b := contextmgmt.ComputeTokenBudget(maxTokens, system, ctxTokens, history, current)
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), b)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render("Token budget"))
		row(out, "Model window", b.ModelMaxTokens)
		row(out, "Mode", b.Mode)
		row(out, "System prompt", b.SystemPromptTokens)
		row(out, "Context", b.ContextTokens)
		row(out, "History", b.HistoryTokens)
		row(out, "Current message", b.CurrentMessageTokens)
		row(out, "Response buffer", b.ResponseBuffer)
		row(out, "Available", b.AvailableTokens)
		row(out, "Usage", fmt.Sprintf("%d%%", b.UsagePercent))
		row(out, "Context budget for mode", cfg.ContextBudget(b.Mode))
		return nil
	},
}

var tokensWindowCmd = &cobra.Command{
	Use:   "window [messages.json]",
	Short: "Show which history messages fit the window",
	Long: `Reads a JSON array of {"role", "content"} messages from a file or stdin and
reports which of them fit beside the fixed parts of the request.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		var messages []contextmgmt.ConversationMessage
		if err := json.NewDecoder(r).Decode(&messages); err != nil {
			return fmt.Errorf("messages must be a JSON array of {role, content}: %w", err)
		}

		flags := cmd.Flags()
		system, _ := flags.GetInt("system")
		ctxTokens, _ := flags.GetInt("context")
		current, _ := flags.GetInt("current")

		w := contextmgmt.BuildMessageWindow(contextmgmt.WindowInput{
			Messages:             messages,
			SystemPromptTokens:   system,
			ContextTokens:        ctxTokens,
			CurrentMessageTokens: current,
			ModelMaxTokens:       modelWindow(cmd),
		})
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), w)
		}

		out := cmd.OutOrStdout()
		row(out, "Kept messages", len(w.Messages))
		row(out, "Excluded messages", w.ExcludedCount)
		row(out, "History tokens", w.HistoryTokens)
		row(out, "Available tokens", w.AvailableTokens)
		row(out, "Summarized", w.Summarized)
		return nil
	},
}

var taskTypeCmd = &cobra.Command{
	Use:   "tasktype [prompt]",
	Short: "Classify a prompt and show the model it routes to",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := argsOrStdin(cmd, args)
		if err != nil {
			return err
		}
		task := contextmgmt.DetectTaskType(text)
		routed := cfg.RouteModel(task)
		provider, _ := providers.DetermineProvider(routed)

		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), map[string]any{"task_type": task, "model": routed, "provider": provider})
		}
		out := cmd.OutOrStdout()
		row(out, "Task type", task)
		row(out, "Model", routed)
		row(out, "Provider", provider)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd, taskTypeCmd)
	tokensCmd.AddCommand(tokensEstimateCmd, tokensBudgetCmd, tokensWindowCmd)

	tokensCmd.PersistentFlags().String("model", "", "Model whose context window to use (default: configured model)")
	tokensCmd.PersistentFlags().Int("max-tokens", 0, "Context window override")
	tokensCmd.PersistentFlags().Bool("json", false, "Print JSON")
	taskTypeCmd.Flags().Bool("json", false, "Print JSON")

	for _, c := range []*cobra.Command{tokensBudgetCmd, tokensWindowCmd} {
		c.Flags().Int("system", 0, "System prompt tokens")
		c.Flags().Int("context", 0, "Project context tokens")
		c.Flags().Int("current", 0, "Current message tokens")
	}
	tokensBudgetCmd.Flags().Int("history", 0, "History tokens")
}

// modelWindow resolves --max-tokens, then --model, then the configured model
func modelWindow(cmd *cobra.Command) int {
	if n, _ := cmd.Flags().GetInt("max-tokens"); n > 0 {
		return n
	}
	m, _ := cmd.Flags().GetString("model")
	if m == "" {
		m = cfg.Model
	}
	return cfg.GetModelConfig(m).ContextWindow
}

func argsOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("error reading stdin: %w", err)
	}
	return string(data), nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func row(w io.Writer, label string, value any) {
	fmt.Fprintln(w, labelStyle.Render(label)+valueStyle.Render(fmt.Sprint(value)))
}
