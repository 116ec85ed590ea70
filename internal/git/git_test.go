package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestContextSummary(t *testing.T) {
	c := &Context{
		Branch:             "main",
		HasUncommitted:     true,
		UncommittedChanges: []string{"M a.go", "M b.go", "?? c.go", "D d.go", "A e.go", "M f.go"},
		RecentCommits:      []Commit{{Hash: "abc123", Message: "fix window"}},
	}

	want := "- Branch: main\n" +
		"- Uncommitted: 6 file(s) changed\n" +
		"  M a.go\n  M b.go\n  ?? c.go\n  D d.go\n  A e.go\n" +
		"- Recent commits:\n" +
		"  abc123 fix window"
	if got := c.Summary(); got != want {
		t.Errorf("Summary() =\n%s\nwant\n%s", got, want)
	}

	clean := &Context{Branch: "dev"}
	if got := clean.Summary(); got != "- Branch: dev" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestParsePorcelainAndLog(t *testing.T) {
	changes := parsePorcelain(" M internal/app.go\n?? notes.md\nR  old.go -> new.go\n")
	want := []string{"M internal/app.go", "?? notes.md", "R old.go -> new.go"}
	if len(changes) != len(want) {
		t.Fatalf("got %v", changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, changes[i], want[i])
		}
	}

	commits := parseLog("abc123\tfirst\ndef456\tsecond: with tab\tinside\n\n")
	if len(commits) != 2 || commits[1].Message != "second: with tab\tinside" {
		t.Errorf("parseLog() = %+v", commits)
	}
}

func TestGetContext(t *testing.T) {
	if !IsGitInstalled() {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	ctx := context.Background()
	runGit := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed: %v %s", args, err, out)
		}
	}

	runGit("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit("add", "a.txt")
	runGit("commit", "-m", "initial commit")
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	repo := NewRepository(dir)
	gc, err := repo.GetContext(ctx, 5)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if gc.Branch != "main" {
		t.Errorf("Branch = %q", gc.Branch)
	}
	if !gc.HasUncommitted || gc.UncommittedChanges[0] != "?? b.txt" {
		t.Errorf("UncommittedChanges = %v", gc.UncommittedChanges)
	}
	if len(gc.RecentCommits) != 1 || gc.RecentCommits[0].Message != "initial commit" {
		t.Errorf("RecentCommits = %+v", gc.RecentCommits)
	}

	if _, err := NewRepository(t.TempDir()).GetContext(ctx, 5); err != ErrNotRepository {
		t.Errorf("expected ErrNotRepository, got %v", err)
	}
}
