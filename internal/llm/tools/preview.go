package tools

import (
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// EditPreview renders the change a find and replace edit would make to content.
// It returns an error when find does not occur in content.
func EditPreview(path, content, find, replace string) (string, error) {
	if find == "" {
		return "", fmt.Errorf("empty search string for %s", path)
	}

	occurrences := strings.Count(content, find)
	if occurrences == 0 {
		return "", fmt.Errorf(`search string not found in %s ("occurrences": 0)`, path)
	}

	updated := strings.ReplaceAll(content, find, replace)
	return DiffPreview(path, content, updated, occurrences), nil
}

// DiffPreview renders a unified diff headed by a short change summary
func DiffPreview(path, before, after string, occurrences int) string {
	dmp := diffmatchpatch.New()
	added, removed := 0, 0
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			removed += len([]rune(d.Text))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d occurrence(s), +%d -%d chars\n", path, occurrences, added, removed)
	b.WriteString(udiff.Unified("a/"+path, "b/"+path, before, after))
	return b.String()
}
