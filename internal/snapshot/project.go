package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
)

// ErrNoProject is returned when no known manifest exists in the directory
var ErrNoProject = errors.New("no project manifest found")

// manifest detectors are tried in order; the first manifest present wins
var manifests = []struct {
	file   string
	detect func(root string, data []byte) (*contextmgmt.ProjectInfo, error)
}{
	{"go.mod", detectGo},
	{"package.json", detectNode},
	{"Cargo.toml", detectRust},
	{"pyproject.toml", detectPython},
}

// ProjectDetector detects project metadata from well-known manifests.
// The last detection is cached per path.
type ProjectDetector struct {
	mu         sync.Mutex
	cachedPath string
	cached     *contextmgmt.ProjectInfo
}

// NewProjectDetector creates a detector with an empty cache
func NewProjectDetector() *ProjectDetector {
	return &ProjectDetector{}
}

// Project returns the metadata of the project rooted at root
func (d *ProjectDetector) Project(_ context.Context, root string) (*contextmgmt.ProjectInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if root == d.cachedPath && d.cached != nil {
		return d.cached, nil
	}

	info, err := DetectProject(root)
	if err != nil {
		return nil, err
	}
	d.cachedPath = root
	d.cached = info
	return info, nil
}

// Invalidate forgets the cached detection
func (d *ProjectDetector) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedPath = ""
	d.cached = nil
}

// DetectProject reads the first known manifest in root
func DetectProject(root string) (*contextmgmt.ProjectInfo, error) {
	for _, m := range manifests {
		data, err := os.ReadFile(filepath.Join(root, m.file))
		if err != nil {
			continue
		}
		info, err := m.detect(root, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", m.file, err)
		}
		// a Caser is stateful, so one is made per detection
		info.ProjectType = cases.Title(language.English).String(info.ProjectType)
		if info.Name == "" {
			info.Name = filepath.Base(root)
		}
		return info, nil
	}
	return nil, fmt.Errorf("%s: %w", root, ErrNoProject)
}

func detectGo(root string, data []byte) (*contextmgmt.ProjectInfo, error) {
	info := &contextmgmt.ProjectInfo{ProjectType: "go"}

	inRequire := false
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "module "):
			info.Name = strings.TrimSpace(strings.TrimPrefix(line, "module "))
		case strings.HasPrefix(line, "go ") && info.Version == "":
			info.Version = strings.TrimSpace(strings.TrimPrefix(line, "go "))
		case line == "require (":
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire && line != "" && !strings.HasPrefix(line, "//"):
			countGoRequire(info, line)
		case strings.HasPrefix(line, "require "):
			countGoRequire(info, strings.TrimPrefix(line, "require "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	info.EntryPoints = globEntries(root, "main.go", "cmd/*/main.go")
	return info, nil
}

// Indirect requirements are reported as dev dependencies
func countGoRequire(info *contextmgmt.ProjectInfo, line string) {
	if strings.Contains(line, "// indirect") {
		info.DevDepsCount++
	} else {
		info.DepsCount++
	}
}

type packageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Main            string            `json:"main"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func detectNode(root string, data []byte) (*contextmgmt.ProjectInfo, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	info := &contextmgmt.ProjectInfo{
		Name:         pkg.Name,
		Version:      pkg.Version,
		ProjectType:  "node",
		Scripts:      sortedKeys(pkg.Scripts),
		DepsCount:    len(pkg.Dependencies),
		DevDepsCount: len(pkg.DevDependencies),
	}
	if _, err := os.Stat(filepath.Join(root, "tsconfig.json")); err == nil {
		info.ProjectType = "typescript"
	}

	if pkg.Main != "" {
		info.EntryPoints = append(info.EntryPoints, pkg.Main)
	}
	for _, e := range globEntries(root, "index.{js,ts}", "src/{index,main}.{js,jsx,ts,tsx}") {
		if e != pkg.Main {
			info.EntryPoints = append(info.EntryPoints, e)
		}
	}
	return info, nil
}

type cargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Dependencies    map[string]toml.Primitive `toml:"dependencies"`
	DevDependencies map[string]toml.Primitive `toml:"dev-dependencies"`
	Bin             []struct {
		Path string `toml:"path"`
	} `toml:"bin"`
}

func detectRust(root string, data []byte) (*contextmgmt.ProjectInfo, error) {
	var cargo cargoManifest
	if _, err := toml.Decode(string(data), &cargo); err != nil {
		return nil, err
	}

	info := &contextmgmt.ProjectInfo{
		Name:         cargo.Package.Name,
		Version:      cargo.Package.Version,
		ProjectType:  "rust",
		DepsCount:    len(cargo.Dependencies),
		DevDepsCount: len(cargo.DevDependencies),
		EntryPoints:  globEntries(root, "src/main.rs", "src/lib.rs"),
	}
	for _, bin := range cargo.Bin {
		if bin.Path != "" {
			info.EntryPoints = append(info.EntryPoints, bin.Path)
		}
	}
	return info, nil
}

type pyprojectManifest struct {
	Project struct {
		Name                 string              `toml:"name"`
		Version              string              `toml:"version"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		Scripts              map[string]string   `toml:"scripts"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name            string                    `toml:"name"`
			Version         string                    `toml:"version"`
			Dependencies    map[string]toml.Primitive `toml:"dependencies"`
			DevDependencies map[string]toml.Primitive `toml:"dev-dependencies"`
			Scripts         map[string]string         `toml:"scripts"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func detectPython(root string, data []byte) (*contextmgmt.ProjectInfo, error) {
	var py pyprojectManifest
	if _, err := toml.Decode(string(data), &py); err != nil {
		return nil, err
	}

	info := &contextmgmt.ProjectInfo{
		Name:        py.Project.Name,
		Version:     py.Project.Version,
		ProjectType: "python",
		Scripts:     sortedKeys(py.Project.Scripts),
		DepsCount:   len(py.Project.Dependencies),
		EntryPoints: globEntries(root, "main.py", "app.py", "__main__.py", "src/*/__main__.py"),
	}
	for _, deps := range py.Project.OptionalDependencies {
		info.DevDepsCount += len(deps)
	}

	poetry := py.Tool.Poetry
	if info.Name == "" {
		info.Name = poetry.Name
	}
	if info.Version == "" {
		info.Version = poetry.Version
	}
	if len(info.Scripts) == 0 {
		info.Scripts = sortedKeys(poetry.Scripts)
	}
	if info.DepsCount == 0 {
		// the python requirement itself is not a dependency
		for name := range poetry.Dependencies {
			if name != "python" {
				info.DepsCount++
			}
		}
	}
	info.DevDepsCount += len(poetry.DevDependencies)
	return info, nil
}

// globEntries returns the files under root matching any pattern, relative and in pattern order
func globEntries(root string, patterns ...string) []string {
	var entries []string
	seen := make(map[string]bool)
	fsys := os.DirFS(root)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				entries = append(entries, m)
			}
		}
	}
	return entries
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
