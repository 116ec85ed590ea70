// Package workspace provides the host tools that let the model inspect and change
// files inside a single project directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/entrepeneur4lyf/chatforge/internal/snapshot"
)

const (
	MaxReadSize      = 250 * 1024
	DefaultReadLimit = 2000
	MaxLineLength    = 2000
	MaxListEntries   = 200
	maxSuggestions   = 3
)

// Options configures a workspace
type Options struct {
	Retriever snapshot.RetrieverOptions
	// Memory enables the memory_append tool when set
	Memory  *snapshot.MemoryFile
	History *History
}

// Workspace is a project directory the tools may not escape
type Workspace struct {
	root      string
	retriever *snapshot.FileRetriever
	filter    *snapshot.IgnoreFilter
	history   *History
	memory    *snapshot.MemoryFile
}

// New opens the workspace rooted at root, which must be an existing directory
func New(root string, opts Options) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	history := opts.History
	if history == nil {
		history = NewHistory()
	}

	return &Workspace{
		root:      abs,
		retriever: snapshot.NewFileRetriever(abs, opts.Retriever),
		filter:    snapshot.NewIgnoreFilter(abs),
		history:   history,
		memory:    opts.Memory,
	}, nil
}

// Root returns the absolute workspace directory
func (w *Workspace) Root() string { return w.root }

// History returns the versions recorded by mutating tools
func (w *Workspace) History() *History { return w.history }

// Resolve maps a tool path argument to an absolute path inside the workspace.
// Relative paths are taken from the root; an empty path is the root itself.
func (w *Workspace) Resolve(path string) (string, error) {
	abs := path
	if abs == "" {
		abs = w.root
	} else if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("permission denied: %s is outside the workspace", path)
	}
	return abs, nil
}

// relative returns the slash separated path of abs below the root
func (w *Workspace) relative(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// readFile loads a whole text file, rejecting binaries and oversized files
func (w *Workspace) readFile(abs string) (string, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return "", w.statError(abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", w.relative(abs))
	}
	if info.Size() > MaxReadSize {
		return "", fmt.Errorf("file is too large (%d bytes), maximum is %d bytes", info.Size(), MaxReadSize)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", w.statError(abs, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", w.relative(abs))
	}
	return string(data), nil
}

// statError words filesystem errors so callers can tell what went wrong
func (w *Workspace) statError(abs string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		msg := "file not found: " + w.relative(abs)
		if similar := w.similarFiles(abs); len(similar) > 0 {
			msg += "\n\nDid you mean one of these?\n" + strings.Join(similar, "\n")
		}
		return errors.New(msg)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("permission denied: %s", w.relative(abs))
	default:
		return err
	}
}

// similarFiles suggests siblings whose names fuzzily match the missing file
func (w *Workspace) similarFiles(abs string) []string {
	entries, err := os.ReadDir(filepath.Dir(abs))
	if err != nil {
		return nil
	}

	base := filepath.Base(abs)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var out []string
	for _, e := range entries {
		name := e.Name()
		if fuzzy.MatchNormalizedFold(stem, name) || fuzzy.MatchNormalizedFold(name, base) {
			out = append(out, w.relative(filepath.Join(filepath.Dir(abs), name)))
			if len(out) >= maxSuggestions {
				break
			}
		}
	}
	return out
}

// sliceLines returns limit numbered lines starting after offset, plus the total line count
func sliceLines(content string, offset, limit int) (string, int) {
	if content == "" {
		return "", 0
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	total := len(lines)
	if offset >= total {
		return "", total
	}

	end := min(offset+limit, total)
	window := make([]string, 0, end-offset)
	for _, line := range lines[offset:end] {
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "..."
		}
		window = append(window, line)
	}
	return addLineNumbers(strings.Join(window, "\n"), offset+1), total
}

func addLineNumbers(content string, startLine int) string {
	if content == "" {
		return ""
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = fmt.Sprintf("%6d|%s", i+startLine, strings.TrimSuffix(line, "\r"))
	}
	return strings.Join(lines, "\n")
}

// listDir returns the visible entries of a directory, directories first
func (w *Workspace) listDir(abs string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, w.statError(abs, err)
	}

	visible := entries[:0]
	for _, e := range entries {
		if !w.filter.IsIgnored(filepath.Join(abs, e.Name()), e.IsDir()) {
			visible = append(visible, e)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].IsDir() && !visible[j].IsDir()
	})
	return visible, nil
}

// writeFile replaces the content of abs, recording the previous state for undo
func (w *Workspace) writeFile(abs, content, tool string) error {
	before, err := os.ReadFile(abs)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return w.statError(abs, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return w.statError(abs, err)
	}
	w.history.Record(w.relative(abs), string(before), existed, tool)
	return nil
}
