package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/markdown"
)

var (
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	previewStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).PaddingLeft(1)
)

// InteractiveOptions configures the terminal loop
type InteractiveOptions struct {
	In  io.Reader
	Out io.Writer
	// Quiet prints replies only, without banners, usage or colour
	Quiet bool
	// Model pins every turn to one model instead of task routing
	Model     string
	Broker    *events.Broker[Update]
	Templates []prompt.Template
}

// Interactive is a line oriented chat loop on a terminal
type Interactive struct {
	session   *Session
	broker    *events.Broker[Update]
	scanner   *bufio.Scanner
	out       io.Writer
	quiet     bool
	model     string
	templates []prompt.Template
	renderer  *markdown.Renderer
}

// NewInteractive creates the loop for session
func NewInteractive(session *Session, opts InteractiveOptions) *Interactive {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Templates == nil {
		opts.Templates = prompt.DefaultTemplates()
	}

	i := &Interactive{
		session:   session,
		broker:    opts.Broker,
		scanner:   bufio.NewScanner(opts.In),
		out:       opts.Out,
		quiet:     opts.Quiet,
		model:     opts.Model,
		templates: opts.Templates,
	}
	if !opts.Quiet {
		r, err := markdown.NewRenderer(markdown.ChatConfig())
		if err != nil {
			log.Warn("Markdown rendering disabled", "err", err)
		} else {
			i.renderer = r
		}
	}
	return i
}

// Run reads messages until EOF or an exit command. Ctrl+C during a turn cancels the turn only.
func (i *Interactive) Run(ctx context.Context) error {
	if !i.quiet {
		model := i.model
		if model == "" {
			model = i.session.cfg.Model + mutedStyle.Render(" (routed by task)")
		}
		fmt.Fprintln(i.out, lipgloss.NewStyle().Bold(true).Render("ChatForge"))
		fmt.Fprintf(i.out, "Model: %s\n", model)
		fmt.Fprintln(i.out, "Type 'exit' or '/exit' to end the session, '/help' for commands")
		fmt.Fprintln(i.out)
	}

	if i.broker != nil && i.session.stream {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go i.printDeltas(i.broker.Subscribe(subCtx, events.FilterByType(events.StreamDelta, events.RateLimited)))
	}

	for {
		if !i.quiet {
			fmt.Fprint(i.out, "> ")
		}
		if !i.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(i.scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			i.say("Goodbye!")
			break
		}
		if strings.HasPrefix(input, "/") && !i.isTemplate(input) {
			if i.handleCommand(ctx, input) {
				break
			}
			continue
		}

		i.turn(ctx, input)
	}

	if err := i.scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

func (i *Interactive) turn(ctx context.Context, input string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result, err := i.session.Send(turnCtx, TurnInput{Text: input, Model: i.model})
	if err != nil {
		i.fail(err)
		return
	}

	if i.session.stream && i.broker != nil {
		fmt.Fprintln(i.out)
	} else {
		i.display(result.Message.Content)
	}

	if !i.quiet {
		line := fmt.Sprintf("%s | %s | %d%% of context", result.Model, result.Budget.Mode, result.Budget.UsagePercent)
		if info := result.Message.TokenInfo; info != nil {
			line += fmt.Sprintf(" | tokens: %d in, %d out", info.InputTokens, info.OutputTokens)
			if info.Cost != nil {
				line += " | cost: " + budget.FormatCost(*info.Cost)
			}
		}
		if result.Window.ExcludedCount > 0 {
			line += fmt.Sprintf(" | %d older messages dropped", result.Window.ExcludedCount)
		}
		fmt.Fprintln(i.out, mutedStyle.Render(line))
		if result.Spend.Warning {
			fmt.Fprintln(i.out, warnStyle.Render(result.Spend.Message))
		}
	}

	i.resolveCalls(ctx, result.ToolCalls)
}

// resolveCalls reports finished calls and asks about the ones waiting for approval
func (i *Interactive) resolveCalls(ctx context.Context, calls []tools.AgentToolCall) {
	for _, call := range calls {
		switch call.Status {
		case tools.StatusCompleted:
			i.say(successStyle.Render(fmt.Sprintf("✓ %s", call.ToolName)))
		case tools.StatusError:
			i.say(errorStyle.Render(fmt.Sprintf("✗ %s: %s", call.ToolName, call.Error)))
		case tools.StatusPending:
			if i.confirm(call) {
				i.report(i.session.Approve(ctx, call.ID))
			} else {
				i.report(i.session.Reject(ctx, call.ID))
			}
		}
	}
}

func (i *Interactive) confirm(call tools.AgentToolCall) bool {
	fmt.Fprintf(i.out, "\n%s wants to run %s\n", warnStyle.Render("Approval required:"), call.ToolName)
	if call.Preview != "" {
		fmt.Fprintln(i.out, previewStyle.Render(call.Preview))
	}
	fmt.Fprint(i.out, "Run it? [y/N] ")
	if !i.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(i.scanner.Text()))
	return answer == "y" || answer == "yes"
}

func (i *Interactive) report(call tools.AgentToolCall, err error) {
	if err != nil {
		i.fail(err)
		return
	}
	i.display(tools.FormatCallOutcome(call))
}

// handleCommand processes special chat commands and reports whether to exit
func (i *Interactive) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	command, args := fields[0], fields[1:]

	switch command {
	case "/help":
		i.showHelp()
	case "/clear":
		i.session.Reset()
		i.say("Conversation cleared")
	case "/model":
		if len(args) == 0 {
			i.model = ""
			i.say("Model routed by task type")
		} else {
			i.model = args[0]
			i.say("Switched to model: " + i.model)
		}
	case "/history":
		i.showHistory()
	case "/tools":
		for _, d := range i.session.ToolDefinitions() {
			fmt.Fprintf(i.out, "  %-16s %-7s %s\n", d.Name, d.DangerLevel, d.Description)
		}
	case "/pending":
		i.resolveCalls(ctx, i.session.Pending())
	case "/fork":
		i.fork(ctx, args)
	case "/branch":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		if err := i.session.SwitchBranch(ctx, id); err != nil {
			i.fail(err)
		} else {
			i.say("Switched branch")
		}
	case "/cost":
		if sum, ok := i.session.Summary(); ok {
			i.say(fmt.Sprintf("%d tokens, %s", sum.TotalTokens, budget.FormatCost(sum.TotalCost)))
		} else {
			i.say("No conversation yet")
		}
	case "/exit", "/quit":
		i.say("Goodbye!")
		return true
	default:
		i.say(fmt.Sprintf("Unknown command: %s\nType '/help' for available commands.", command))
	}
	return false
}

func (i *Interactive) fork(ctx context.Context, args []string) {
	msgs := i.session.Messages()
	if len(args) == 0 {
		i.say("Usage: /fork <message number> [name]")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(msgs) {
		i.say(fmt.Sprintf("Message number must be between 1 and %d", len(msgs)))
		return
	}
	branch, err := i.session.Fork(ctx, msgs[n-1].ID, strings.Join(args[1:], " "))
	if err != nil {
		i.fail(err)
		return
	}
	i.say(fmt.Sprintf("Forked %q (%s)", branch.Name, branch.ID))
}

func (i *Interactive) showHelp() {
	if i.quiet {
		return
	}
	fmt.Fprintln(i.out, "Available commands:")
	fmt.Fprintln(i.out, "  /help              Show this help message")
	fmt.Fprintln(i.out, "  /clear             Start a new conversation")
	fmt.Fprintln(i.out, "  /model [id]        Pin a model, or route by task without an id")
	fmt.Fprintln(i.out, "  /history           Show the conversation")
	fmt.Fprintln(i.out, "  /tools             List the tools offered to the model")
	fmt.Fprintln(i.out, "  /pending           Review tool calls waiting for approval")
	fmt.Fprintln(i.out, "  /fork <n> [name]   Branch the conversation at message n")
	fmt.Fprintln(i.out, "  /branch [id]       Switch branch, or back to the main line")
	fmt.Fprintln(i.out, "  /cost              Show tokens and cost of this conversation")
	fmt.Fprintln(i.out, "  /exit              Exit the chat session")
	fmt.Fprintln(i.out, "Prompt templates:")
	for _, t := range i.templates {
		fmt.Fprintf(i.out, "  %-18s %s\n", t.Command, t.Description)
	}
}

func (i *Interactive) showHistory() {
	msgs := i.session.Messages()
	if len(msgs) == 0 {
		i.say("No conversation history")
		return
	}
	for n, msg := range msgs {
		preview := strings.ReplaceAll(msg.Content, "\n", " ")
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		fmt.Fprintf(i.out, "%d. %s: %s\n", n+1, strings.ToUpper(msg.Role), preview)
	}
}

func (i *Interactive) printDeltas(ch <-chan events.Event[Update]) {
	for ev := range ch {
		switch ev.Type {
		case events.StreamDelta:
			fmt.Fprint(i.out, ev.Payload.Delta)
		case events.RateLimited:
			if !i.quiet {
				fmt.Fprintln(i.out, warnStyle.Render("Rate limited, waiting for the provider"))
			}
		}
	}
}

func (i *Interactive) isTemplate(input string) bool {
	command := strings.Fields(input)[0]
	for _, t := range i.templates {
		if strings.EqualFold(t.Command, command) {
			return true
		}
	}
	return false
}

func (i *Interactive) display(text string) {
	if i.renderer != nil {
		if rendered, err := i.renderer.Render(text); err == nil {
			fmt.Fprintln(i.out, rendered)
			return
		}
	}
	fmt.Fprintln(i.out, text)
}

func (i *Interactive) say(msg string) {
	if !i.quiet {
		fmt.Fprintln(i.out, msg)
	}
}

func (i *Interactive) fail(err error) {
	msg := "Error: " + err.Error()
	if hint := providers.ErrorHint(err); hint != "" {
		msg += "\n" + hint
	}
	if i.quiet {
		fmt.Fprintln(i.out, msg)
		return
	}
	fmt.Fprintln(i.out, errorStyle.Render(msg))
}
