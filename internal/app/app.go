// Package app wires configuration, storage, providers and tools into a runnable chat runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
	"github.com/entrepeneur4lyf/chatforge/internal/chat"
	"github.com/entrepeneur4lyf/chatforge/internal/config"
	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/prompt"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
	"github.com/entrepeneur4lyf/chatforge/internal/logging"
	"github.com/entrepeneur4lyf/chatforge/internal/snapshot"
	"github.com/entrepeneur4lyf/chatforge/internal/storage"
	"github.com/entrepeneur4lyf/chatforge/internal/workspace"
)

// Store is what the app persists to: settings, budgets, spending and conversations
type Store interface {
	storage.KVStore
	storage.ConversationStore
}

// Options selects how the app is assembled
type Options struct {
	WorkingDir string
	// ConfigFile overrides config discovery
	ConfigFile string
	Debug      bool
	// InMemory keeps conversations and spending in memory instead of the database
	InMemory bool
	// Config is used as is when set; WorkingDir and ConfigFile are then ignored
	Config *config.Config
}

// App holds the long lived services shared by chat sessions, the API and the MCP server
type App struct {
	Config    *config.Config
	Store     Store
	Tracker   *budget.Tracker
	Limiter   *providers.RateLimiter
	Clients   chat.ClientFactory
	Workspace *workspace.Workspace
	Registry  *tools.Registry
	Macros    []tools.ToolMacro
	Collector *snapshot.Collector
	Broker    *events.Broker[chat.Update]
	Audit     *logging.AuditLog
	Templates []prompt.Template
	Counter   *contextmgmt.TokenCounter

	watcher *config.BudgetWatcher
	closers []io.Closer
}

// New assembles the app. Close releases everything it opened.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		wd := opts.WorkingDir
		if wd == "" {
			var err error
			if wd, err = os.Getwd(); err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
		}
		abs, err := filepath.Abs(wd)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
		}
		cfg, err = config.LoadFile(abs, opts.ConfigFile, opts.Debug)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	app := &App{
		Config:  cfg,
		Limiter: cfg.NewRateLimiter(),
		Broker:  events.NewBroker[chat.Update](),
		Macros:  tools.DefaultMacros(),
		Counter: contextmgmt.NewTokenCounter(cfg.Context.ExactTokens),
	}
	app.Clients = chat.NewClientFactory(cfg, app.Limiter)

	steps := []struct {
		name string
		run  func(context.Context, bool) error
	}{
		{"storage", app.initializeStorage},
		{"budgets", app.initializeBudgets},
		{"workspace", app.initializeWorkspace},
		{"audit log", app.initializeAudit},
		{"templates", app.initializeTemplates},
	}
	for _, step := range steps {
		if err := step.run(ctx, opts.InMemory); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	log.Info("ChatForge initialized", "workspace", cfg.WorkingDir, "model", cfg.Model, "tools", len(app.Registry.Definitions()))
	return app, nil
}

func (app *App) initializeStorage(_ context.Context, inMemory bool) error {
	if inMemory {
		app.Store = storage.NewMemoryStore()
		return nil
	}

	store, err := storage.NewDefaultSQLStore(app.Config.PathManager())
	if err != nil {
		return err
	}
	app.Store = store
	app.closers = append(app.closers, store)
	return nil
}

// initializeBudgets loads spending from the store and budgets from the TOML file,
// reloading the file on change when configured
func (app *App) initializeBudgets(ctx context.Context, _ bool) error {
	app.Tracker = budget.NewTracker(app.Store)
	if err := app.Tracker.Load(ctx); err != nil {
		return err
	}

	budgets, err := app.Config.LoadBudgets()
	if err != nil {
		return err
	}
	if len(budgets) > 0 {
		app.Tracker.SetBudgets(budgets)
	}

	if !app.Config.Budget.Watch {
		return nil
	}
	path, err := app.Config.BudgetsPath()
	if err != nil {
		return err
	}
	watcher, err := config.NewBudgetWatcher(path, func(b []budget.ProviderBudget) {
		log.Info("Budgets reloaded", "providers", len(b))
		app.Tracker.SetBudgets(b)
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	app.watcher = watcher
	return nil
}

func (app *App) initializeWorkspace(_ context.Context, _ bool) error {
	cfg := app.Config
	root := cfg.WorkingDir
	if root == "" {
		root = "."
	}

	memoryPath, err := cfg.PathManager().GetMemoryPath()
	if err != nil {
		return err
	}
	memory := snapshot.NewMemoryFile(memoryPath)

	retrieverOpts := snapshot.RetrieverOptions{
		Include:  cfg.Context.Include,
		Exclude:  cfg.Context.Exclude,
		MaxFiles: cfg.Context.MaxFiles,
	}
	ws, err := workspace.New(root, workspace.Options{Retriever: retrieverOpts, Memory: memory})
	if err != nil {
		return err
	}
	app.Workspace = ws
	app.Registry = ws.Registry()

	app.Collector = &snapshot.Collector{
		Root:      ws.Root(),
		Project:   snapshot.NewProjectDetector(),
		Git:       snapshot.GitSummarizer{},
		Memory:    memory,
		Imports:   snapshot.NewImportScanner(ws.Root()),
		Retrieval: snapshot.NewFileRetriever(ws.Root(), retrieverOpts),
	}
	return nil
}

func (app *App) initializeAudit(_ context.Context, inMemory bool) error {
	if inMemory {
		return nil
	}
	dir, err := app.Config.PathManager().GetLogsDir()
	if err != nil {
		return err
	}
	audit, err := logging.OpenAuditLog(filepath.Join(dir, "audit.log"))
	if err != nil {
		return err
	}
	app.Audit = audit
	app.closers = append(app.closers, audit)
	return nil
}

// initializeTemplates merges user templates from the store with the built-in ones.
// An unreadable template record only costs the custom templates.
func (app *App) initializeTemplates(ctx context.Context, _ bool) error {
	templates, err := prompt.NewTemplateStore(app.Store).All(ctx)
	if err != nil {
		log.Warn("Custom prompt templates unavailable", "err", err)
		templates = prompt.DefaultTemplates()
	}
	app.Templates = templates
	return nil
}

// SessionOptions returns the chat options that share the app's services
func (app *App) SessionOptions(stream bool) chat.Options {
	return chat.Options{
		Config:    app.Config,
		Clients:   app.Clients,
		Tracker:   app.Tracker,
		Store:     app.Store,
		Collector: app.Collector,
		Registry:  app.Registry,
		Macros:    app.Macros,
		Broker:    app.Broker,
		Audit:     app.Audit,
		Templates: app.Templates,
		Stream:    stream,
	}
}

// NewSession starts a chat session sharing the app's services
func (app *App) NewSession(stream bool) (*chat.Session, error) {
	return chat.NewSession(app.SessionOptions(stream))
}

// Close stops the budget watcher, the event broker and closes storage and logs
func (app *App) Close() error {
	if app.watcher != nil {
		app.watcher.Stop()
	}
	if app.Broker != nil {
		app.Broker.Shutdown()
	}

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
