package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	defaultMaxFiles   = 5000
	defaultMaxResults = 8
	minKeywordLength  = 3
)

var errWalkLimit = errors.New("walk limit reached")

var keywordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"what": true, "how": true, "why": true, "can": true, "you": true, "please": true,
	"from": true, "into": true, "file": true, "files": true, "code": true, "does": true,
	"are": true, "not": true, "have": true, "show": true, "make": true, "about": true,
}

// RetrieverOptions limits what the retriever walks and reports
type RetrieverOptions struct {
	// Include keeps only paths matching one of these doublestar patterns
	Include []string
	// Exclude drops paths matching one of these doublestar patterns
	Exclude    []string
	MaxFiles   int
	MaxResults int
}

// Match is a file ranked against a query
type Match struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// FileRetriever ranks project files by how well their names match a query
type FileRetriever struct {
	root   string
	opts   RetrieverOptions
	filter *IgnoreFilter
}

// NewFileRetriever creates a retriever over the project rooted at root
func NewFileRetriever(root string, opts RetrieverOptions) *FileRetriever {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	return &FileRetriever{
		root:   root,
		opts:   opts,
		filter: NewIgnoreFilter(root),
	}
}

// Files walks the project and returns the slash separated relative paths that pass the filters
func (r *FileRetriever) Files(ctx context.Context) ([]string, error) {
	var files []string

	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.filter.IsIgnored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !r.selected(rel) {
			return nil
		}

		files = append(files, rel)
		if len(files) >= r.opts.MaxFiles {
			return errWalkLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errWalkLimit) {
		return nil, err
	}
	return files, nil
}

// Glob returns the project files matching a doublestar pattern such as "**/*.go".
// A pattern without a slash also matches base names anywhere in the tree.
func (r *FileRetriever) Glob(ctx context.Context, pattern string) ([]string, error) {
	files, err := r.Files(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, f := range files {
		ok, _ := doublestar.Match(pattern, f)
		if !ok && !strings.Contains(pattern, "/") {
			ok, _ = doublestar.Match(pattern, filepath.Base(f))
		}
		if ok {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// Rank scores every file against the keywords of query and returns the best limit matches
func (r *FileRetriever) Rank(ctx context.Context, query string, limit int) ([]Match, error) {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	files, err := r.Files(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
	}

	scores := make(map[int]float64)
	for _, kw := range keywords {
		for _, rank := range fuzzy.RankFindNormalizedFold(kw, names) {
			score := 1 / float64(1+rank.Distance)
			if strings.Contains(strings.ToLower(rank.Target), kw) {
				score += 1
			}
			scores[rank.OriginalIndex] += score
		}
		for i, f := range files {
			// directory names count too, at a lower weight
			if strings.Contains(strings.ToLower(filepath.Dir(f)), kw) {
				scores[i] += 0.5
			}
		}
	}

	matches := make([]Match, 0, len(scores))
	for idx, score := range scores {
		matches = append(matches, Match{Path: files[idx], Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Path < matches[j].Path
	})

	if limit <= 0 {
		limit = r.opts.MaxResults
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Retrieve renders the best matches for query as a context section
func (r *FileRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	matches, err := r.Rank(ctx, query, r.opts.MaxResults)
	if err != nil || len(matches) == 0 {
		return "", err
	}

	lines := []string{"- Relevant files:"}
	for _, m := range matches {
		lines = append(lines, "  "+m.Path)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *FileRetriever) selected(rel string) bool {
	for _, pattern := range r.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(r.opts.Include) == 0 {
		return true
	}
	for _, pattern := range r.opts.Include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Keywords extracts the lowercase search terms of a query, dropping short and common words
func Keywords(query string) []string {
	var keywords []string
	seen := make(map[string]bool)
	for _, w := range keywordPattern.FindAllString(strings.ToLower(query), -1) {
		if len([]rune(w)) < minKeywordLength || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
