package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol server",
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the MCP tools, resources and prompts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render("Tools"))
		for _, name := range []string{"estimate_tokens", "token_budget", "message_window", "parse_tool_calls", "check_budget", "detect_task_type"} {
			fmt.Fprintf(out, "  %s\n", name)
		}
		for _, t := range a.Registry.SafeTools() {
			fmt.Fprintf(out, "  %s\n", t.Definition().Name)
		}

		fmt.Fprintln(out, titleStyle.Render("Resources"))
		fmt.Fprintln(out, "  chatforge://spend/month")
		fmt.Fprintln(out, "  chatforge://budgets")

		fmt.Fprintln(out, titleStyle.Render("Prompts"))
		for _, t := range a.Templates {
			fmt.Fprintf(out, "  %-18s %s\n", t.Command, t.Description)
		}
		return nil
	},
}

var mcpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the MCP server",
	Long:  "Start the ChatForge MCP server with stdio, SSE or streamable HTTP transport",
	RunE: func(cmd *cobra.Command, _ []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcp.NewChatForgeServer(mcp.Deps{
			Config:    a.Config,
			Tracker:   a.Tracker,
			Registry:  a.Registry,
			Counter:   a.Counter,
			Templates: a.Templates,
		})

		switch transport {
		case "stdio":
			return srv.Start()
		case "sse":
			return srv.StartSSE(addr)
		case "http":
			return srv.StartStreamableHTTP(addr)
		default:
			return fmt.Errorf("unknown transport type: %s", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd, mcpServerCmd)

	mcpServerCmd.Flags().StringP("transport", "t", "stdio", "Transport type (stdio, sse, http)")
	mcpServerCmd.Flags().StringP("addr", "a", ":8080", "Address for SSE and HTTP transports")
}
