package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// MacroStepResult is the outcome of one step of an executed macro
type MacroStepResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithMacros makes macros callable through their macro_ names
func WithMacros(macros []ToolMacro) DispatcherOption {
	return func(d *Dispatcher) {
		for _, m := range macros {
			d.macros[m.Name] = m
		}
	}
}

// WithObserver registers a callback invoked with a copy of a call after every state change
func WithObserver(fn func(AgentToolCall)) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// WithRetryDelay sets the base delay between automatic retries of transient tool failures
func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.retryDelay = delay
	}
}

// WithMaxMacroSteps overrides the total step cap for one macro run
func WithMaxMacroSteps(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxMacroSteps = n
	}
}

// Dispatcher routes parsed tool calls through the approval state machine.
// Safe calls run immediately; medium and high calls wait in pending until
// Approve or Reject is called. Nothing blocks while a call waits.
type Dispatcher struct {
	registry      *Registry
	macros        map[string]ToolMacro
	observer      func(AgentToolCall)
	retryDelay    time.Duration
	maxMacroSteps int

	mu    sync.Mutex
	calls map[string]*AgentToolCall
	order []string
}

// NewDispatcher creates a dispatcher over the registry
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:      registry,
		macros:        make(map[string]ToolMacro),
		retryDelay:    time.Second,
		maxMacroSteps: MaxTotalMacroSteps,
		calls:         make(map[string]*AgentToolCall),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Definitions returns the registry tools followed by the macros
func (d *Dispatcher) Definitions() []Definition {
	defs := d.registry.Definitions()
	macros := make([]ToolMacro, 0, len(d.macros))
	for _, m := range d.macros {
		macros = append(macros, m)
	}
	sortMacros(macros)
	return append(defs, MacrosToDefinitions(macros)...)
}

func (d *Dispatcher) lookup(name string) (Definition, bool) {
	if IsMacroCall(name) {
		m, ok := d.macros[MacroName(name)]
		if !ok {
			return Definition{}, false
		}
		return MacrosToDefinitions([]ToolMacro{m})[0], true
	}

	t, ok := d.registry.Get(name)
	if !ok {
		return Definition{}, false
	}
	return t.Definition(), true
}

// Dispatch creates a call for every recognized tool name and returns them in order.
// Unknown tools are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, parsed []ParsedToolCall) []AgentToolCall {
	var created []*AgentToolCall

	for _, p := range parsed {
		def, ok := d.lookup(p.Tool)
		if !ok {
			log.Debug("Dropping call to unknown tool", "tool", p.Tool)
			continue
		}

		call := NewAgentToolCall(p.ID, def.Name, p.Args)
		d.mu.Lock()
		d.calls[call.ID] = call
		d.order = append(d.order, call.ID)
		d.mu.Unlock()
		created = append(created, call)

		if v := ValidateArgs(def, call.Args); !v.Valid {
			d.update(call, func() error {
				return call.Fail("invalid arguments: " + strings.Join(v.Errors, "; "))
			})
			continue
		}

		if def.DangerLevel == DangerSafe {
			d.update(call, call.Approve)
			d.run(ctx, call)
			continue
		}

		if t, ok := d.registry.Get(def.Name); ok {
			if previewer, ok := t.(Previewer); ok {
				preview, err := previewer.Preview(ctx, call.Args)
				if err != nil {
					log.Debug("Preview unavailable", "tool", def.Name, "err", err)
				}
				d.update(call, func() error {
					call.Preview = preview
					return nil
				})
			}
		}
		d.notify(call)
	}

	out := make([]AgentToolCall, 0, len(created))
	d.mu.Lock()
	for _, c := range created {
		out = append(out, *c)
	}
	d.mu.Unlock()
	return out
}

// Approve runs a pending call and returns its final state
func (d *Dispatcher) Approve(ctx context.Context, id string) (AgentToolCall, error) {
	call, err := d.find(id)
	if err != nil {
		return AgentToolCall{}, err
	}

	if err := d.update(call, call.Approve); err != nil {
		return d.snapshot(call), err
	}
	d.run(ctx, call)
	return d.snapshot(call), nil
}

// Reject aborts a pending call
func (d *Dispatcher) Reject(id string) (AgentToolCall, error) {
	call, err := d.find(id)
	if err != nil {
		return AgentToolCall{}, err
	}

	err = d.update(call, call.Reject)
	return d.snapshot(call), err
}

// Get returns a copy of a call
func (d *Dispatcher) Get(id string) (AgentToolCall, bool) {
	call, err := d.find(id)
	if err != nil {
		return AgentToolCall{}, false
	}
	return d.snapshot(call), true
}

// Pending returns the calls awaiting approval in creation order
func (d *Dispatcher) Pending() []AgentToolCall {
	d.mu.Lock()
	defer d.mu.Unlock()

	var pending []AgentToolCall
	for _, id := range d.order {
		if c := d.calls[id]; c.Status == StatusPending {
			pending = append(pending, *c)
		}
	}
	return pending
}

func (d *Dispatcher) find(id string) (*AgentToolCall, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.calls[id]
	if !ok {
		return nil, fmt.Errorf("tool call %s: %w", id, ErrToolNotFound)
	}
	return call, nil
}

func (d *Dispatcher) snapshot(call *AgentToolCall) AgentToolCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *call
}

// update applies a transition under the lock and notifies the observer on success
func (d *Dispatcher) update(call *AgentToolCall, apply func() error) error {
	d.mu.Lock()
	err := apply()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify(call)
	return nil
}

func (d *Dispatcher) notify(call *AgentToolCall) {
	if d.observer == nil {
		return
	}
	d.observer(d.snapshot(call))
}

// run executes an approved call, retrying failures classified as transient
func (d *Dispatcher) run(ctx context.Context, call *AgentToolCall) {
	if err := d.update(call, call.Start); err != nil {
		log.Warn("Tool call could not start", "tool", call.ToolName, "err", err)
		return
	}

	var (
		result   any
		err      error
		strategy RetryStrategy
	)
	for attempt := 0; ; attempt++ {
		result, err = d.execute(ctx, call.ToolName, call.Args, &MacroStepCounter{Max: d.maxMacroSteps})
		if err == nil {
			break
		}

		strategy = AnalyzeToolError(call.ToolName, call.Args, err.Error())
		if !strategy.AutoRetry || attempt >= strategy.MaxRetries-1 {
			break
		}

		delay := d.retryDelay * time.Duration(1<<attempt)
		log.Debug("Retrying tool call", "tool", call.ToolName, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			strategy = AnalyzeToolError(call.ToolName, call.Args, err.Error())
		case <-time.After(delay):
			continue
		}
		break
	}

	if err != nil {
		log.Warn("Tool call failed", "tool", call.ToolName, "err", err)
		d.update(call, func() error {
			call.Recovery = &strategy
			return call.Fail(err.Error())
		})
		return
	}

	d.update(call, func() error { return call.Complete(result) })
}

// execute runs a tool or expands a macro, sharing counter across nested macros
func (d *Dispatcher) execute(ctx context.Context, name string, args map[string]any, counter *MacroStepCounter) (any, error) {
	if IsMacroCall(name) {
		macro, ok := d.macros[MacroName(name)]
		if !ok {
			return nil, fmt.Errorf("macro %s: %w", MacroName(name), ErrToolNotFound)
		}

		steps := ResolveMacroSteps(macro, args)
		results := make([]MacroStepResult, 0, len(steps))
		for i, step := range steps {
			if err := counter.Next(); err != nil {
				return results, err
			}
			r, err := d.execute(ctx, step.ToolName, stepArgs(step), counter)
			if err != nil {
				return results, fmt.Errorf("step %d (%s): %w", i+1, step.ToolName, err)
			}
			results = append(results, MacroStepResult{Tool: step.ToolName, Result: r})
		}
		return results, nil
	}

	t, ok := d.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return t.Execute(ctx, args)
}
