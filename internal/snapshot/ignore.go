package snapshot

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFilter provides gitignore-aware file filtering
type IgnoreFilter struct {
	ignore *gitignore.GitIgnore
	root   string
}

// NewIgnoreFilter compiles the default patterns plus the project's .gitignore and
// .git/info/exclude for the given project root
func NewIgnoreFilter(root string) *IgnoreFilter {
	patterns := append([]string{".git/"}, defaultIgnorePatterns()...)
	for _, name := range []string{".gitignore", filepath.Join(".git", "info", "exclude")} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}

	return &IgnoreFilter{
		ignore: gitignore.CompileIgnoreLines(patterns...),
		root:   root,
	}
}

// IsIgnored checks if a path, absolute or relative to the root, should be skipped
func (f *IgnoreFilter) IsIgnored(path string, isDir bool) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(f.root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	if isDir {
		rel += "/"
	}
	return f.ignore.MatchesPath(rel)
}

// defaultIgnorePatterns returns the patterns skipped in every project
func defaultIgnorePatterns() []string {
	return []string{
		// Version control
		".svn/",
		".hg/",

		// Dependencies
		"node_modules/",
		"vendor/",
		"target/",
		".venv/",
		"venv/",

		// IDE files
		".vscode/",
		".idea/",
		"*.swp",
		"*~",

		// Build outputs
		"build/",
		"dist/",
		"out/",
		".next/",

		// Language-specific
		"__pycache__/",
		".pytest_cache/",
		"*.pyc",
		"*.class",
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",

		// Logs and temporary files
		"*.log",
		"*.tmp",
		".DS_Store",

		// Local data
		".chatforge/",
		".env",
	}
}
