package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect tools and parse tool calls",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tools offered to the model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		defs := a.Registry.Definitions()
		if jsonOutput(cmd) {
			return printJSON(cmd.OutOrStdout(), defs)
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("TOOL", "DANGER", "APPROVAL", "DESCRIPTION")
		for _, d := range defs {
			approval := "no"
			if a.Registry.RequiresApproval(d.Name) {
				approval = "yes"
			}
			t.Row(d.Name, string(d.DangerLevel), approval, d.Description)
		}
		for _, m := range a.Macros {
			t.Row(m.Name, "macro", "per step", m.Description)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

var toolsParseCmd = &cobra.Command{
	Use:   "parse [text]",
	Short: "Extract TOOL:/ARGS: calls from model output (or stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := argsOrStdin(cmd, args)
		if err != nil {
			return err
		}
		calls := tools.ParseToolCalls(text)
		if jsonOutput(cmd) {
			if calls == nil {
				calls = []tools.ParsedToolCall{}
			}
			return printJSON(cmd.OutOrStdout(), calls)
		}

		out := cmd.OutOrStdout()
		if len(calls) == 0 {
			fmt.Fprintln(out, "No tool calls found")
			return nil
		}
		for i, call := range calls {
			data, _ := json.Marshal(call.Args)
			fmt.Fprintf(out, "%d. %s %s\n", i+1, valueStyle.Render(call.Tool), data)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsListCmd, toolsParseCmd)
	toolsCmd.PersistentFlags().Bool("json", false, "Print JSON")
}
