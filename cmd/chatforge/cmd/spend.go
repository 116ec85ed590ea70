package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
)

var (
	warnText = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	stopText = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var spendCmd = &cobra.Command{
	Use:   "spend",
	Short: "Monthly spending and provider budgets",
}

var spendShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show this month's spending against budgets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records := a.Tracker.MonthlySpending()
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"spending": records,
				"budgets":  a.Tracker.Budgets(),
			})
		}

		seen := make(map[string]bool)
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("PROVIDER", "SPENT", "LIMIT", "USED", "REQUESTS", "TOKENS")
		for _, r := range records {
			seen[r.ProviderID] = true
			check := a.Tracker.CheckBudget(r.ProviderID)
			t.Row(r.ProviderID, budget.FormatCost(r.TotalCost), limitText(check), usedText(check),
				strconv.Itoa(r.RequestCount), strconv.Itoa(r.TokenCount))
		}
		for _, b := range a.Tracker.Budgets() {
			if seen[b.ProviderID] {
				continue
			}
			check := a.Tracker.CheckBudget(b.ProviderID)
			t.Row(b.ProviderID, budget.FormatCost(0), limitText(check), usedText(check), "0", "0")
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var spendSetCmd = &cobra.Command{
	Use:   "set <provider> <monthly-limit-usd>",
	Short: "Set a provider's monthly budget (0 removes the limit)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := strconv.ParseFloat(args[1], 64)
		if err != nil || limit < 0 {
			return fmt.Errorf("monthly limit must be a non-negative number, got %q", args[1])
		}
		warn, _ := cmd.Flags().GetFloat64("warn")
		hardStop, _ := cmd.Flags().GetBool("hard-stop")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		updated := budget.ProviderBudget{
			ProviderID:       args[0],
			MonthlyLimitUSD:  limit,
			WarningThreshold: warn,
			HardStop:         hardStop,
		}
		budgets := a.Tracker.Budgets()
		replaced := false
		for i := range budgets {
			if budgets[i].ProviderID == updated.ProviderID {
				budgets[i] = updated
				replaced = true
			}
		}
		if !replaced {
			budgets = append(budgets, updated)
		}

		if err := a.Tracker.SaveBudgets(cmd.Context(), budgets); err != nil {
			return err
		}
		path, err := cfg.BudgetsPath()
		if err != nil {
			return err
		}
		if err := config.SaveBudgets(path, budgets); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Budget for %s set to %s per month (saved to %s)\n",
			updated.ProviderID, budget.FormatCost(limit), path)
		return nil
	},
}

var spendResetCmd = &cobra.Command{
	Use:   "reset <provider>",
	Short: "Clear a provider's spending for the current month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Tracker.ResetProviderSpending(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Spending for %s reset\n", args[0])
		return nil
	},
}

var spendCheckCmd = &cobra.Command{
	Use:   "check <provider>",
	Short: "Check whether a provider may take another request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		check := a.Tracker.CheckBudget(args[0])
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), check)
		}
		out := cmd.OutOrStdout()
		row(out, "Allowed", check.Allowed)
		row(out, "Spent", budget.FormatCost(check.CurrentSpend))
		row(out, "Limit", limitText(check))
		row(out, "Used", usedText(check))
		if check.Message != "" {
			fmt.Fprintln(out, warnText.Render(check.Message))
		}
		return check.Err()
	},
}

func init() {
	rootCmd.AddCommand(spendCmd)
	spendCmd.AddCommand(spendShowCmd, spendSetCmd, spendResetCmd, spendCheckCmd)
	spendCmd.PersistentFlags().Bool("json", false, "Print JSON")

	spendSetCmd.Flags().Float64("warn", budget.DefaultWarningThreshold, "Warning threshold in percent of the limit")
	spendSetCmd.Flags().Bool("hard-stop", false, "Refuse requests once the limit is reached")
}

func limitText(check budget.CheckResult) string {
	if check.Limit <= 0 {
		return "unlimited"
	}
	return budget.FormatCost(check.Limit)
}

func usedText(check budget.CheckResult) string {
	if check.Limit <= 0 {
		return "-"
	}
	text := fmt.Sprintf("%d%%", check.PercentUsed)
	switch {
	case !check.Allowed:
		return stopText.Render(text)
	case check.Warning:
		return warnText.Render(text)
	}
	return text
}
