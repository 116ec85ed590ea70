package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// Only this many uncommitted changes and commits are rendered into a summary
	maxSummaryChanges = 5
	maxSummaryCommits = 5
)

// ErrNotRepository is returned when the directory is not inside a git work tree
var ErrNotRepository = errors.New("not a git repository")

// Commit is one entry of the recent history
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Context is the git state injected into a conversation
type Context struct {
	Branch             string   `json:"branch"`
	RecentCommits      []Commit `json:"recent_commits"`
	UncommittedChanges []string `json:"uncommitted_changes"`
	HasUncommitted     bool     `json:"has_uncommitted"`
}

// Summary renders the context as the bullet list placed in the prompt
func (c *Context) Summary() string {
	lines := []string{"- Branch: " + c.Branch}

	if c.HasUncommitted {
		lines = append(lines, fmt.Sprintf("- Uncommitted: %d file(s) changed", len(c.UncommittedChanges)))
		for i, change := range c.UncommittedChanges {
			if i == maxSummaryChanges {
				break
			}
			lines = append(lines, "  "+change)
		}
	}

	if len(c.RecentCommits) > 0 {
		lines = append(lines, "- Recent commits:")
		for i, commit := range c.RecentCommits {
			if i == maxSummaryCommits {
				break
			}
			lines = append(lines, fmt.Sprintf("  %s %s", commit.Hash, commit.Message))
		}
	}

	return strings.Join(lines, "\n")
}

// Repository represents a git repository
type Repository struct {
	workingDir string
}

// NewRepository creates a new git repository instance
func NewRepository(workingDir string) *Repository {
	return &Repository{
		workingDir: workingDir,
	}
}

// IsGitRepository checks if the directory or one of its parents holds a .git entry
func (r *Repository) IsGitRepository() bool {
	dir, err := filepath.Abs(r.workingDir)
	if err != nil {
		return false
	}
	for {
		// .git may be a file for worktrees
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// IsGitInstalled checks if git is installed and available
func IsGitInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// GetContext collects the branch, uncommitted changes and recent commits
func (r *Repository) GetContext(ctx context.Context, commitLimit int) (*Context, error) {
	if !r.IsGitRepository() {
		return nil, ErrNotRepository
	}

	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current branch: %w", err)
	}

	changes, err := r.UncommittedChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	// A fresh repository has no commits; that is not an error
	commits, _ := r.RecentCommits(ctx, commitLimit)

	return &Context{
		Branch:             branch,
		RecentCommits:      commits,
		UncommittedChanges: changes,
		HasUncommitted:     len(changes) > 0,
	}, nil
}

// CurrentBranch gets the current branch name, or HEAD when detached
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.run(ctx, "branch", "--show-current")
	if err != nil || strings.TrimSpace(output) == "" {
		// Fallback to symbolic-ref for older git versions
		output, err = r.run(ctx, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return "HEAD", nil
		}
	}
	return strings.TrimSpace(output), nil
}

// UncommittedChanges returns the porcelain status lines, e.g. "M internal/app.go"
func (r *Repository) UncommittedChanges(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(output), nil
}

// RecentCommits returns up to limit commits, newest first
func (r *Repository) RecentCommits(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = maxSummaryCommits
	}
	output, err := r.run(ctx, "log", fmt.Sprintf("-%d", limit), "--format=%h%x09%s")
	if err != nil {
		return nil, err
	}
	return parseLog(output), nil
}

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.workingDir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func parsePorcelain(output string) []string {
	var changes []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		code := strings.TrimSpace(line[:2])
		changes = append(changes, code+" "+line[3:])
	}
	return changes
}

func parseLog(output string) []Commit {
	var commits []Commit
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		hash, message, ok := strings.Cut(scanner.Text(), "\t")
		if !ok || hash == "" {
			continue
		}
		commits = append(commits, Commit{Hash: hash, Message: message})
	}
	return commits
}
