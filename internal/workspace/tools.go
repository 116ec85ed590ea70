package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

const defaultRankLimit = 8

// Tool names served by a workspace
const (
	ToolList   = "local_list"
	ToolRead   = "local_read"
	ToolSearch = "local_search"
	ToolRAG    = "rag_search"
	ToolEdit   = "local_edit"
	ToolWrite  = "local_write"
	ToolDelete = "local_delete"
	ToolUndo   = "local_undo"
	ToolMemory = "memory_append"
)

// previewTool is a tool that can describe its change before approval
type previewTool struct {
	tools.Tool
	preview func(ctx context.Context, args map[string]any) (string, error)
}

func (t *previewTool) Preview(ctx context.Context, args map[string]any) (string, error) {
	return t.preview(ctx, args)
}

// Tools returns every tool the workspace provides
func (w *Workspace) Tools() []tools.Tool {
	ts := []tools.Tool{
		tools.NewFuncTool(tools.Definition{
			Name:        ToolList,
			Description: "List the files and directories in a workspace directory",
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Description: "Directory relative to the workspace root (default: root)"},
			},
			DangerLevel: tools.DangerSafe,
		}, w.list),
		tools.NewFuncTool(tools.Definition{
			Name:        ToolRead,
			Description: "Read a text file with line numbers",
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Description: "File to read", Required: true},
				{Name: "offset", Type: tools.TypeNumber, Description: "Number of lines to skip"},
				{Name: "limit", Type: tools.TypeNumber, Description: "Maximum number of lines to return (default 2000)"},
			},
			DangerLevel: tools.DangerSafe,
		}, w.read),
		tools.NewFuncTool(tools.Definition{
			Name:        ToolSearch,
			Description: `Find files matching a glob pattern such as "**/*.go" below a directory`,
			Parameters: []tools.Parameter{
				{Name: "path", Type: tools.TypeString, Description: "Directory to search", Required: true},
				{Name: "pattern", Type: tools.TypeString, Description: "Glob pattern", Required: true},
			},
			DangerLevel: tools.DangerSafe,
		}, w.search),
		tools.NewFuncTool(tools.Definition{
			Name:        ToolRAG,
			Description: "Find the files most relevant to a natural language query",
			Parameters: []tools.Parameter{
				{Name: "query", Type: tools.TypeString, Description: "What to look for", Required: true},
				{Name: "path", Type: tools.TypeString, Description: "Limit results to this file or directory"},
				{Name: "limit", Type: tools.TypeNumber, Description: "Maximum number of results"},
			},
			DangerLevel: tools.DangerSafe,
		}, w.ragSearch),
		&previewTool{
			Tool: tools.NewFuncTool(tools.Definition{
				Name:        ToolEdit,
				Description: "Replace every occurrence of a string in a file",
				Parameters: []tools.Parameter{
					{Name: "path", Type: tools.TypeString, Description: "File to edit", Required: true},
					{Name: "find", Type: tools.TypeString, Description: "Exact text to replace", Required: true},
					{Name: "replace", Type: tools.TypeString, Description: "Replacement text", Required: true},
				},
				DangerLevel: tools.DangerMedium,
			}, w.edit),
			preview: w.previewEdit,
		},
		&previewTool{
			Tool: tools.NewFuncTool(tools.Definition{
				Name:        ToolWrite,
				Description: "Create a file or overwrite it with new content",
				Parameters: []tools.Parameter{
					{Name: "path", Type: tools.TypeString, Description: "File to write", Required: true},
					{Name: "content", Type: tools.TypeString, Description: "Full file content", Required: true},
				},
				DangerLevel: tools.DangerHigh,
			}, w.write),
			preview: w.previewWrite,
		},
		&previewTool{
			Tool: tools.NewFuncTool(tools.Definition{
				Name:        ToolDelete,
				Description: "Delete a file",
				Parameters: []tools.Parameter{
					{Name: "path", Type: tools.TypeString, Description: "File to delete", Required: true},
				},
				DangerLevel: tools.DangerHigh,
			}, w.remove),
			preview: w.previewDelete,
		},
		&previewTool{
			Tool: tools.NewFuncTool(tools.Definition{
				Name:        ToolUndo,
				Description: "Restore a file to its state before the last change made by a tool",
				Parameters: []tools.Parameter{
					{Name: "path", Type: tools.TypeString, Description: "File to restore", Required: true},
				},
				DangerLevel: tools.DangerMedium,
			}, w.undo),
			preview: w.previewUndo,
		},
	}

	if w.memory != nil {
		ts = append(ts, tools.NewFuncTool(tools.Definition{
			Name:        ToolMemory,
			Description: "Remember a fact or decision for later conversations",
			Parameters: []tools.Parameter{
				{Name: "entry", Type: tools.TypeString, Description: "What to remember", Required: true},
				{Name: "category", Type: tools.TypeString, Description: "Category such as decision or convention"},
			},
			DangerLevel: tools.DangerMedium,
		}, w.remember))
	}
	return ts
}

// Registry returns a registry holding the workspace tools
func (w *Workspace) Registry() *tools.Registry {
	return tools.NewRegistry(w.Tools()...)
}

func (w *Workspace) list(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	entries, err := w.listDir(abs)
	if err != nil {
		return nil, err
	}

	result := tools.ListResult{Entries: make([]tools.ListEntry, 0, min(len(entries), MaxListEntries))}
	for _, e := range entries {
		if len(result.Entries) >= MaxListEntries {
			result.Truncated = true
			result.Total = len(entries)
			break
		}
		entry := tools.ListEntry{Name: e.Name(), Path: w.relative(filepath.Join(abs, e.Name())), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			entry.Size = info.Size()
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

func (w *Workspace) read(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	content, err := w.readFile(abs)
	if err != nil {
		return nil, err
	}

	offset := intArg(args, "offset", 0)
	limit := intArg(args, "limit", DefaultReadLimit)
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	numbered, total := sliceLines(content, max(offset, 0), limit)
	return tools.ReadResult{
		Content:   numbered,
		Truncated: max(offset, 0)+limit < total,
		Size:      int64(len(content)),
	}, nil
}

func (w *Workspace) search(ctx context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	pattern := tools.StringArg(args, "pattern")

	files, err := w.retriever.Glob(ctx, pattern)
	if err != nil {
		return nil, err
	}

	dir := w.relative(abs)
	result := tools.SearchResult{Results: []tools.ListEntry{}}
	for _, f := range files {
		if !within(f, dir) {
			continue
		}
		result.Results = append(result.Results, w.fileEntry(f))
	}
	log.Debug("Searched workspace", "pattern", pattern, "dir", dir, "matches", len(result.Results))
	return result, nil
}

func (w *Workspace) ragSearch(ctx context.Context, args map[string]any) (any, error) {
	query := tools.StringArg(args, "query")
	limit := intArg(args, "limit", defaultRankLimit)
	if limit <= 0 {
		limit = defaultRankLimit
	}

	scope := ""
	if p := tools.StringArg(args, "path"); p != "" {
		abs, err := w.Resolve(p)
		if err != nil {
			return nil, err
		}
		scope = w.relative(abs)
	}

	// Rank over more candidates when a scope will filter some out
	candidates := limit
	if scope != "" && scope != "." {
		candidates = limit * 4
	}
	matches, err := w.retriever.Rank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	result := tools.SearchResult{Results: []tools.ListEntry{}}
	for _, m := range matches {
		if !within(m.Path, scope) {
			continue
		}
		result.Results = append(result.Results, w.fileEntry(m.Path))
		if len(result.Results) >= limit {
			break
		}
	}
	return result, nil
}

func (w *Workspace) previewEdit(_ context.Context, args map[string]any) (string, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return "", err
	}
	content, err := w.readFile(abs)
	if err != nil {
		return "", err
	}
	return tools.EditPreview(w.relative(abs), content, tools.StringArg(args, "find"), tools.StringArg(args, "replace"))
}

func (w *Workspace) edit(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	content, err := w.readFile(abs)
	if err != nil {
		return nil, err
	}

	rel := w.relative(abs)
	find, replace := tools.StringArg(args, "find"), tools.StringArg(args, "replace")
	if find == "" {
		return nil, fmt.Errorf("empty search string for %s", rel)
	}
	n := strings.Count(content, find)
	if n == 0 {
		return nil, fmt.Errorf(`search string not found in %s ("occurrences": 0)`, rel)
	}

	if err := w.writeFile(abs, strings.ReplaceAll(content, find, replace), ToolEdit); err != nil {
		return nil, err
	}
	log.Info("Edited file", "path", rel, "occurrences", n)
	return tools.EditResult{
		Success:  true,
		Replaced: n,
		Path:     rel,
		Message:  fmt.Sprintf("Replaced %d occurrence(s) in %s", n, rel),
	}, nil
}

func (w *Workspace) previewWrite(_ context.Context, args map[string]any) (string, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return "", err
	}
	rel := w.relative(abs)
	content := tools.StringArg(args, "content")

	before, err := w.readFile(abs)
	if err != nil {
		if _, statErr := os.Stat(abs); errors.Is(statErr, fs.ErrNotExist) {
			return tools.DiffPreview(rel, "", content, 1), nil
		}
		return "", err
	}
	return tools.DiffPreview(rel, before, content, 1), nil
}

func (w *Workspace) write(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	if abs == w.root {
		return nil, errors.New("path is required")
	}
	content := tools.StringArg(args, "content")
	if err := w.writeFile(abs, content, ToolWrite); err != nil {
		return nil, err
	}

	rel := w.relative(abs)
	log.Info("Wrote file", "path", rel, "bytes", len(content))
	return tools.MessageResult{Message: fmt.Sprintf("Wrote %d bytes to %s", len(content), rel)}, nil
}

func (w *Workspace) previewDelete(_ context.Context, args map[string]any) (string, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", w.statError(abs, err)
	}
	return fmt.Sprintf("delete %s (%d bytes)", w.relative(abs), info.Size()), nil
}

func (w *Workspace) remove(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, w.statError(abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory; only files can be deleted", w.relative(abs))
	}

	before, err := os.ReadFile(abs)
	if err != nil {
		return nil, w.statError(abs, err)
	}
	if err := os.Remove(abs); err != nil {
		return nil, w.statError(abs, err)
	}

	rel := w.relative(abs)
	w.history.Record(rel, string(before), true, ToolDelete)
	log.Info("Deleted file", "path", rel)
	return tools.MessageResult{Message: "Deleted " + rel}, nil
}

func (w *Workspace) previewUndo(_ context.Context, args map[string]any) (string, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return "", err
	}
	rel := w.relative(abs)
	versions := w.history.Versions(rel)
	if len(versions) == 0 {
		return "", fmt.Errorf("no recorded version of %s", rel)
	}
	last := versions[len(versions)-1]
	if !last.Existed {
		return fmt.Sprintf("remove %s (created by %s)", rel, last.Tool), nil
	}

	current, _ := os.ReadFile(abs)
	return tools.DiffPreview(rel, string(current), last.Content, 1), nil
}

func (w *Workspace) undo(_ context.Context, args map[string]any) (any, error) {
	abs, err := w.Resolve(tools.StringArg(args, "path"))
	if err != nil {
		return nil, err
	}
	rel := w.relative(abs)
	v, err := w.history.Pop(rel)
	if err != nil {
		return nil, err
	}

	if !v.Existed {
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, w.statError(abs, err)
		}
		return tools.MessageResult{Message: fmt.Sprintf("Removed %s, which %s had created", rel, v.Tool)}, nil
	}

	if err := os.WriteFile(abs, []byte(v.Content), 0644); err != nil {
		return nil, w.statError(abs, err)
	}
	return tools.MessageResult{Message: fmt.Sprintf("Restored %s to its state before %s", rel, v.Tool)}, nil
}

func (w *Workspace) remember(ctx context.Context, args map[string]any) (any, error) {
	entry := strings.TrimSpace(tools.StringArg(args, "entry"))
	if entry == "" {
		return nil, errors.New("memory entry is empty")
	}
	if err := w.memory.Append(ctx, entry, tools.StringArg(args, "category")); err != nil {
		return nil, err
	}
	return tools.MessageResult{Message: "Saved to memory"}, nil
}

func (w *Workspace) fileEntry(rel string) tools.ListEntry {
	entry := tools.ListEntry{Name: path.Base(rel), Path: rel}
	if info, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel))); err == nil {
		entry.Size = info.Size()
	}
	return entry
}

// within reports whether the slash separated path rel lies in dir; "" and "." are the root
func within(rel, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// intArg reads a numeric argument, which JSON decodes as float64
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return def
		}
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}
