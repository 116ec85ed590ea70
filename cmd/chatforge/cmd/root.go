package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/chatforge/internal/app"
	"github.com/entrepeneur4lyf/chatforge/internal/chat"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/logging"
)

var (
	debug      bool
	workingDir string
	configFile string
	inMemory   bool
)

var (
	quiet    bool
	model    string
	format   string
	noStream bool
	resume   string
)

var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "chatforge [prompt]",
	Short: "Token-budgeted LLM chat with tool calling",
	Long: `ChatForge runs LLM conversations inside a fixed context window. It budgets
tokens for the system prompt, project context and history, routes requests to
providers with rate limiting and retries, dispatches tool calls behind an
approval gate and tracks spending against monthly budgets.

Usage:
  chatforge                    # Start interactive chat
  chatforge "your question"    # Get a direct answer
  echo "question" | chatforge  # Pipe input`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Args:              cobra.ArbitraryArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(workingDir)
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workingDir = abs

		cfg, err = config.LoadFile(workingDir, configFile, debug)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCloser, err = logging.Setup(logging.Options{
			WorkingDir: workingDir,
			Debug:      debug || cfg.Debug,
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
		})
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.NewSession(!noStream && !quiet && format == formatText)
		if err != nil {
			return err
		}
		if resume != "" {
			if err := session.Resume(cmd.Context(), resume); err != nil {
				return fmt.Errorf("failed to resume conversation %s: %w", resume, err)
			}
		}

		if len(args) > 0 {
			return runDirectPrompt(cmd, a, session, strings.Join(args, " "))
		}
		if hasStdinInput() {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("error reading stdin: %w", err)
			}
			return runDirectPrompt(cmd, a, session, string(data))
		}

		return chat.NewInteractive(session, chat.InteractiveOptions{
			In:        cmd.InOrStdin(),
			Out:       cmd.OutOrStdout(),
			Quiet:     quiet,
			Model:     model,
			Broker:    a.Broker,
			Templates: a.Templates,
		}).Run(cmd.Context())
	},
}

const (
	formatText = "text"
	formatJSON = "json"
)

func init() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&workingDir, "wd", wd, "Working directory")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default .chatforge.json in the working directory or $HOME)")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "Keep conversations and spending in memory only")

	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode - output only the answer")
	rootCmd.Flags().StringVarP(&model, "model", "m", "", "Pin the model instead of routing by task type")
	rootCmd.Flags().StringVar(&format, "format", formatText, "Output format for direct prompts (text, json)")
	rootCmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for complete replies instead of streaming")
	rootCmd.Flags().StringVar(&resume, "resume", "", "Continue a stored conversation by id")
}

// Execute runs the root command
func Execute() {
	defer func() {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if hint := providers.ErrorHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

// openApp assembles the runtime for commands that talk to providers or storage
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, app.Options{Config: cfg, Debug: debug, InMemory: inMemory})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ChatForge: %w", err)
	}
	return a, nil
}

func runDirectPrompt(cmd *cobra.Command, a *app.App, session *chat.Session, prompt string) error {
	out := cmd.OutOrStdout()
	streamed := session.Streaming()
	if streamed {
		subCtx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go printDeltas(out, a.Broker.Subscribe(subCtx, events.FilterByType(events.StreamDelta)))
	}

	result, err := session.Send(cmd.Context(), chat.TurnInput{Text: prompt, Model: model})
	if err != nil {
		return err
	}

	if format == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if streamed {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, result.Message.Content)
	}
	for _, call := range result.ToolCalls {
		if call.Status == tools.StatusPending {
			log.Warn("Tool call needs approval; run interactively to approve it", "tool", call.ToolName)
		}
	}
	return nil
}

func hasStdinInput() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func printDeltas(out io.Writer, ch <-chan events.Event[chat.Update]) {
	for ev := range ch {
		fmt.Fprint(out, ev.Payload.Delta)
	}
}
