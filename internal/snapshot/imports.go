package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxImports caps how many resolved imports are reported for one file
const MaxImports = 15

var (
	jsImportPattern   = regexp.MustCompile(`(?:import\s[^'"]*?from\s*|import\s*\(?\s*|require\s*\(\s*)['"]([^'"]+)['"]`)
	pyImportPattern   = regexp.MustCompile(`^\s*from\s+(\.+[\w.]*)\s+import\b`)
	rustModPattern    = regexp.MustCompile(`^\s*(?:pub\s+)?mod\s+(\w+)\s*;`)
	goImportLine      = regexp.MustCompile(`^\s*(?:import\s+)?(?:[\w.]+\s+)?"([^"]+)"`)
	jsResolveSuffixes = []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", "/index.ts", "/index.tsx", "/index.js"}
)

// ImportScanner resolves the local files a source file imports.
// Package imports that do not resolve to a path inside the project are skipped.
type ImportScanner struct {
	root string
}

// NewImportScanner creates a scanner for the project rooted at root
func NewImportScanner(root string) *ImportScanner {
	return &ImportScanner{root: root}
}

// Imports returns at most MaxImports resolved paths imported by file, in source order
func (s *ImportScanner) Imports(ctx context.Context, file string) ([]string, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(s.root, file)
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	resolve := s.resolverFor(file)
	if resolve == nil {
		return nil, nil
	}

	var resolved []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(resolved) < MaxImports {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		for _, path := range resolve(scanner.Text()) {
			if path != "" && !seen[path] && len(resolved) < MaxImports {
				seen[path] = true
				resolved = append(resolved, path)
			}
		}
	}
	return resolved, scanner.Err()
}

func (s *ImportScanner) resolverFor(file string) func(line string) []string {
	dir := filepath.Dir(file)

	switch strings.ToLower(filepath.Ext(file)) {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".vue", ".svelte":
		return func(line string) []string {
			var out []string
			for _, m := range jsImportPattern.FindAllStringSubmatch(line, -1) {
				if strings.HasPrefix(m[1], ".") {
					out = append(out, firstExisting(filepath.Join(dir, m[1]), jsResolveSuffixes))
				}
			}
			return out
		}

	case ".py":
		return func(line string) []string {
			m := pyImportPattern.FindStringSubmatch(line)
			if m == nil {
				return nil
			}
			dots := len(m[1]) - len(strings.TrimLeft(m[1], "."))
			base := dir
			for i := 1; i < dots; i++ {
				base = filepath.Dir(base)
			}
			rest := strings.ReplaceAll(strings.TrimLeft(m[1], "."), ".", string(filepath.Separator))
			if rest == "" {
				return []string{firstExisting(filepath.Join(base, "__init__"), []string{".py"})}
			}
			return []string{firstExisting(filepath.Join(base, rest), []string{".py", "/__init__.py"})}
		}

	case ".rs":
		return func(line string) []string {
			m := rustModPattern.FindStringSubmatch(line)
			if m == nil {
				return nil
			}
			return []string{firstExisting(filepath.Join(dir, m[1]), []string{".rs", "/mod.rs"})}
		}

	case ".go":
		module := s.goModule()
		if module == "" {
			return nil
		}
		inBlock := false
		return func(line string) []string {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "import (":
				inBlock = true
				return nil
			case inBlock && trimmed == ")":
				inBlock = false
				return nil
			case !inBlock && !strings.HasPrefix(trimmed, "import "):
				return nil
			}

			m := goImportLine.FindStringSubmatch(line)
			if m == nil || !strings.HasPrefix(m[1], module+"/") {
				return nil
			}
			pkgDir := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(m[1], module+"/")))
			if info, err := os.Stat(pkgDir); err == nil && info.IsDir() {
				return []string{pkgDir}
			}
			return nil
		}
	}
	return nil
}

func (s *ImportScanner) goModule() string {
	data, err := os.ReadFile(filepath.Join(s.root, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// firstExisting returns the first base+suffix naming a regular file, or ""
func firstExisting(base string, suffixes []string) string {
	for _, suffix := range suffixes {
		candidate := filepath.Clean(base + filepath.FromSlash(suffix))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
