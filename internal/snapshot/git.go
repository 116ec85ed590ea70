package snapshot

import (
	"context"

	"github.com/entrepeneur4lyf/chatforge/internal/git"
)

const recentCommitLimit = 5

// GitSummarizer renders the git context of a directory using the git CLI
type GitSummarizer struct{}

// GitSummary returns the branch, uncommitted changes and recent commits of root
func (GitSummarizer) GitSummary(ctx context.Context, root string) (string, error) {
	gc, err := git.NewRepository(root).GetContext(ctx, recentCommitLimit)
	if err != nil {
		return "", err
	}
	return gc.Summary(), nil
}
