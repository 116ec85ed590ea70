package prompt

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entrepeneur4lyf/chatforge/internal/git"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

// maxInstructionFileSize limits each project instruction file
const maxInstructionFileSize = 10000

const baseSystemPrompt = `You are ChatForge, an assistant embedded in the user's development environment.
You help with code, files and terminal work inside the current project.

Be concise. Prefer showing code over describing it, and keep explanations short unless the user asks for detail.`

const toolInstructions = `You can call tools. To use a tool, respond with:
TOOL: tool_name
ARGS: {"param": "value"}

You may call several tools in one response; each call starts on its own line.
Always explain what you're doing before executing tools.`

// SystemPromptInput holds the pieces of a system prompt
type SystemPromptInput struct {
	// Base replaces the default assistant prompt when set
	Base         string
	WorkingDir   string
	Tools        []tools.Definition
	Instructions string
	SmartContext string
	Now          time.Time
}

// BuildSystemPrompt assembles the system prompt sent with every request
func BuildSystemPrompt(in SystemPromptInput) string {
	base := in.Base
	if base == "" {
		base = baseSystemPrompt
	}
	parts := []string{base}

	if len(in.Tools) > 0 {
		parts = append(parts, toolInstructions, tools.GenerateToolsPrompt(in.Tools))
	}

	if in.WorkingDir != "" {
		parts = append(parts, environmentInfo(in.WorkingDir, in.Now))
	}

	if in.Instructions != "" {
		parts = append(parts, "# Project-Specific Context\nMake sure to follow the instructions in the context below\n"+in.Instructions)
	}

	if in.SmartContext != "" {
		parts = append(parts, "# Current Context\n"+in.SmartContext)
	}

	return strings.Join(parts, "\n\n")
}

func environmentInfo(cwd string, now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	isGit := git.NewRepository(cwd).IsGitRepository()

	return fmt.Sprintf(`Here is useful information about the environment you are running in:
<env>
Working directory: %s
Is directory a git repo: %s
Platform: %s
Today's date: %s
</env>`, cwd, boolToYesNo(isGit), runtime.GOOS, now.Format("1/2/2006"))
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// LoadProjectInstructions reads the instruction files named by paths, relative to workDir.
// A path ending in "/" is read recursively. Files are read concurrently; the result keeps
// path order and each file appears once, compared case-insensitively.
func LoadProjectInstructions(ctx context.Context, workDir string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}

	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		key := strings.ToLower(path)
		if !seen[key] {
			seen[key] = true
			files = append(files, path)
		}
	}

	for _, p := range paths {
		full := filepath.Join(workDir, p)
		if !strings.HasSuffix(p, "/") {
			add(full)
			continue
		}
		err := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return fs.SkipDir
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	results := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = processFile(file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var out []string
	for _, r := range results {
		if r != "" {
			out = append(out, r)
		}
	}
	return strings.Join(out, "\n"), nil
}

func processFile(filePath string) string {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return ""
	}

	if len(content) > maxInstructionFileSize {
		content = content[:maxInstructionFileSize]
		return fmt.Sprintf("# From: %s (truncated)\n%s\n... [file truncated]", filePath, string(content))
	}

	return fmt.Sprintf("# From: %s\n%s", filePath, string(content))
}
