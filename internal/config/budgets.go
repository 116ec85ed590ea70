package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/entrepeneur4lyf/chatforge/internal/budget"
)

// budgetFile is the TOML layout of budgets.toml, one [[budget]] table per provider
type budgetFile struct {
	Budgets []budget.ProviderBudget `toml:"budget"`
}

// SaveBudgets writes provider budgets to a TOML file
func SaveBudgets(filePath string, budgets []budget.ProviderBudget) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create budget directory %s: %w", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create/open budget file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := toml.NewEncoder(writer)
	if err := encoder.Encode(budgetFile{Budgets: budgets}); err != nil {
		return fmt.Errorf("failed to encode budgets to TOML file %s: %w", filePath, err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer for budget file %s: %w", filePath, err)
	}

	log.Debug("Budgets saved to file", "file", filePath, "count", len(budgets))
	return nil
}

// LoadBudgets reads provider budgets from a TOML file. A missing file yields no budgets.
func LoadBudgets(filePath string) ([]budget.ProviderBudget, error) {
	var f budgetFile
	if _, err := toml.DecodeFile(filePath, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode TOML from file %s: %w", filePath, err)
	}
	return f.Budgets, nil
}

// LoadBudgets reads the configured budget file, filling unset warning thresholds
// with the configured default
func (c *Config) LoadBudgets() ([]budget.ProviderBudget, error) {
	path, err := c.BudgetsPath()
	if err != nil {
		return nil, err
	}
	budgets, err := LoadBudgets(path)
	if err != nil {
		return nil, err
	}
	for i := range budgets {
		if budgets[i].WarningThreshold <= 0 {
			budgets[i].WarningThreshold = c.Budget.WarningThreshold
		}
	}
	return budgets, nil
}

// BudgetWatcher reloads a budget file when it changes on disk
type BudgetWatcher struct {
	path     string
	onChange func([]budget.ProviderBudget)
	watcher  *fsnotify.Watcher

	// Debouncing
	debounceDelay time.Duration
	mutex         sync.Mutex
	timer         *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBudgetWatcher creates a watcher calling onChange with the reloaded budgets
func NewBudgetWatcher(path string, onChange func([]budget.ProviderBudget)) (*BudgetWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create budget watcher: %w", err)
	}
	return &BudgetWatcher{
		path:          filepath.Clean(path),
		onChange:      onChange,
		watcher:       watcher,
		debounceDelay: 200 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the debounce delay
func (bw *BudgetWatcher) SetDebounceDelay(delay time.Duration) {
	bw.debounceDelay = delay
}

// Start begins watching. The parent directory is watched so that editors replacing
// the file are noticed.
func (bw *BudgetWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(bw.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create budget directory %s: %w", dir, err)
	}
	if err := bw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	bw.ctx, bw.cancel = context.WithCancel(ctx)
	go bw.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (bw *BudgetWatcher) Stop() {
	if bw.cancel != nil {
		bw.cancel()
		<-bw.done
	}
}

func (bw *BudgetWatcher) processEvents() {
	defer close(bw.done)
	defer bw.watcher.Close()

	for {
		select {
		case <-bw.ctx.Done():
			bw.mutex.Lock()
			if bw.timer != nil {
				bw.timer.Stop()
			}
			bw.mutex.Unlock()
			return
		case event, ok := <-bw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != bw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			bw.schedule()
		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("Budget watcher error", "error", err)
		}
	}
}

func (bw *BudgetWatcher) schedule() {
	bw.mutex.Lock()
	defer bw.mutex.Unlock()

	if bw.timer != nil {
		bw.timer.Stop()
	}
	bw.timer = time.AfterFunc(bw.debounceDelay, bw.reload)
}

func (bw *BudgetWatcher) reload() {
	if bw.ctx.Err() != nil {
		return
	}
	budgets, err := LoadBudgets(bw.path)
	if err != nil {
		log.Warn("Failed to reload budgets", "file", bw.path, "error", err)
		return
	}
	log.Debug("Budgets reloaded", "file", bw.path, "count", len(budgets))
	bw.onChange(budgets)
}
