package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Stored conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		convs, err := a.Store.LoadConversations(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			summaries := make([]any, 0, len(convs))
			for _, c := range convs {
				summaries = append(summaries, c.Summary())
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("ID", "TITLE", "UPDATED", "MESSAGES", "BRANCHES", "TOKENS", "COST")
		for _, c := range convs {
			s := c.Summary()
			t.Row(s.ID, s.Title, s.UpdatedAt.Format("2006-01-02 15:04"),
				strconv.Itoa(s.MessageCount), strconv.Itoa(s.BranchCount),
				strconv.Itoa(s.TotalTokens), budget.FormatCost(s.TotalCost))
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's active messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := a.Store.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("conversation %s: %w", args[0], err)
		}
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), conv)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render(conv.Title))
		for _, msg := range conv.ActiveMessages() {
			fmt.Fprintf(out, "\n%s\n%s\n", valueStyle.Render(strings.ToUpper(msg.Role)), msg.Content)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	historyCmd.PersistentFlags().Bool("json", false, "Print JSON")
}
