package context

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SectionType identifies the source of an ambient context section
type SectionType string

const (
	SectionProject   SectionType = "project"
	SectionGit       SectionType = "git"
	SectionMemory    SectionType = "memory"
	SectionImports   SectionType = "imports"
	SectionRetrieval SectionType = "retrieval"
)

const (
	// Sections at or above this importance are compressed instead of dropped
	compressiblePriority = 2
	// Minimum remaining budget worth compressing a section into
	minCompressionTokens = 50
	// Only the most recent memory entries are injected
	maxMemoryLines = 20
)

var (
	gitKeywords     = regexp.MustCompile(`(?i)\b(git|commit|push|pull|merge|branch|diff|change|changed|history|log|revert|stash)\b`)
	bugKeywords     = regexp.MustCompile(`(?i)\b(bug|fix|error|crash|issue|problem|broken|fail|exception|debug|trace)\b`)
	depsKeywords    = regexp.MustCompile(`(?i)\b(install|dependency|dependencies|package|npm|cargo|pip|require|import|module|library|crate|version)\b`)
	fileKeywords    = regexp.MustCompile(`(?i)\b(file|read|write|edit|create|delete|rename|move|path)\b`)
	projectKeywords = regexp.MustCompile(`(?i)\b(project|config|setup|init|scaffold|structure|architecture)\b`)
)

// ContextSection is one candidate piece of ambient context
type ContextSection struct {
	Type            SectionType `json:"type"`
	Content         string      `json:"content"`
	Priority        int         `json:"priority"` // lower is more important
	EstimatedTokens int         `json:"estimated_tokens"`
}

// SmartContext holds the sections that fit the caller's token sub-budget
type SmartContext struct {
	Sections             []ContextSection `json:"sections"`
	TotalEstimatedTokens int              `json:"total_estimated_tokens"`
}

// ProjectInfo describes the detected project in the working directory
type ProjectInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	ProjectType  string   `json:"project_type"`
	Scripts      []string `json:"scripts,omitempty"`
	DepsCount    int      `json:"deps_count"`
	DevDepsCount int      `json:"dev_deps_count"`
	EntryPoints  []string `json:"entry_points,omitempty"`
}

// SmartContextInput carries the snapshots available for the current turn.
// Every snapshot is optional.
type SmartContextInput struct {
	Prompt           string
	TaskType         TaskType
	Project          *ProjectInfo
	GitSummary       string
	Memory           string
	Imports          []string
	RetrievalSummary string
	Budget           int
}

// SectionPriorities maps each section type to its priority for a request
type SectionPriorities map[SectionType]int

// lower improves a priority without ever making it worse
func (p SectionPriorities) lower(t SectionType, priority int) {
	p[t] = min(p[t], priority)
}

// AnalyzePromptIntent scores which context types matter for this prompt
func AnalyzePromptIntent(prompt string, taskType TaskType) SectionPriorities {
	priorities := SectionPriorities{
		SectionProject:   5,
		SectionGit:       5,
		SectionImports:   5,
		SectionMemory:    3,
		SectionRetrieval: 4,
	}

	if gitKeywords.MatchString(prompt) {
		priorities.lower(SectionGit, 1)
	}
	if bugKeywords.MatchString(prompt) {
		priorities.lower(SectionMemory, 1)
		priorities.lower(SectionImports, 2)
	}
	if depsKeywords.MatchString(prompt) {
		priorities.lower(SectionProject, 1)
	}
	if fileKeywords.MatchString(prompt) {
		priorities.lower(SectionImports, 2)
		priorities.lower(SectionRetrieval, 2)
	}
	if projectKeywords.MatchString(prompt) {
		priorities.lower(SectionProject, 1)
	}

	switch taskType {
	case TaskCodeGeneration:
		priorities.lower(SectionImports, 2)
		priorities.lower(SectionProject, 2)
	case TaskCodeReview:
		priorities.lower(SectionGit, 2)
		priorities.lower(SectionImports, 1)
	case TaskFileAnalysis:
		priorities.lower(SectionRetrieval, 1)
		priorities.lower(SectionImports, 2)
	case TaskTerminalCommand:
		priorities.lower(SectionProject, 2)
	}

	return priorities
}

// BuildSmartContext selects and compresses ambient context sections to fit input.Budget
func BuildSmartContext(input SmartContextInput) SmartContext {
	priorities := AnalyzePromptIntent(input.Prompt, input.TaskType)
	sections := buildSections(input, priorities)

	// Ties keep construction order
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Priority < sections[j].Priority
	})

	budget := max(0, input.Budget)
	fitted := make([]ContextSection, 0, len(sections))
	total := 0

	for _, section := range sections {
		if total+section.EstimatedTokens <= budget {
			fitted = append(fitted, section)
			total += section.EstimatedTokens
			continue
		}

		if section.Priority > compressiblePriority {
			continue
		}

		available := budget - total
		if available <= minCompressionTokens {
			continue
		}

		// (available-1)*4 characters plus the ellipsis still estimates to at most available tokens
		compressed := truncateText(section.Content, (available-1)*4) + "..."
		section.Content = compressed
		section.EstimatedTokens = EstimateTokens(compressed)
		fitted = append(fitted, section)
		total += section.EstimatedTokens
	}

	return SmartContext{
		Sections:             fitted,
		TotalEstimatedTokens: total,
	}
}

// buildSections creates one section per available snapshot, in a fixed order
func buildSections(input SmartContextInput, priorities SectionPriorities) []ContextSection {
	var sections []ContextSection

	add := func(t SectionType, content string) {
		sections = append(sections, ContextSection{
			Type:            t,
			Content:         content,
			Priority:        priorities[t],
			EstimatedTokens: EstimateTokens(content),
		})
	}

	if input.Project != nil {
		add(SectionProject, FormatProjectSection(*input.Project))
	}

	if input.GitSummary != "" {
		add(SectionGit, input.GitSummary)
	}

	if memory := strings.TrimSpace(input.Memory); memory != "" {
		lines := strings.Split(memory, "\n")
		if len(lines) > maxMemoryLines {
			lines = lines[len(lines)-maxMemoryLines:]
		}
		add(SectionMemory, strings.Join(lines, "\n"))
	}

	if len(input.Imports) > 0 {
		names := make([]string, 0, len(input.Imports))
		for _, imp := range input.Imports {
			parts := strings.Split(strings.ReplaceAll(imp, `\`, "/"), "/")
			names = append(names, parts[len(parts)-1])
		}
		add(SectionImports, "Imported files: "+strings.Join(names, ", "))
	}

	if input.RetrievalSummary != "" {
		add(SectionRetrieval, input.RetrievalSummary)
	}

	return sections
}

// FormatSmartContextForPrompt renders the fitted sections for system prompt injection
func FormatSmartContextForPrompt(sc SmartContext) string {
	if len(sc.Sections) == 0 {
		return ""
	}

	parts := make([]string, 0, len(sc.Sections))
	for _, section := range sc.Sections {
		switch section.Type {
		case SectionMemory:
			parts = append(parts, "- Agent memory:\n"+section.Content)
		case SectionImports:
			parts = append(parts, "- "+section.Content)
		default:
			parts = append(parts, section.Content)
		}
	}

	return strings.Join(parts, "\n")
}

// FormatProjectSection renders project metadata as a bulleted summary
func FormatProjectSection(p ProjectInfo) string {
	var lines []string

	nameVersion := strings.TrimSpace(strings.Join(nonEmpty(p.Name, versionLabel(p.Version)), " "))
	if nameVersion == "" {
		nameVersion = "unnamed"
	}
	lines = append(lines, fmt.Sprintf("- Project: %s (%s)", nameVersion, p.ProjectType))

	if len(p.Scripts) > 0 {
		scripts := p.Scripts
		if len(scripts) > 8 {
			scripts = scripts[:8]
		}
		lines = append(lines, "- Scripts: "+strings.Join(scripts, ", "))
	}

	if p.DepsCount > 0 || p.DevDepsCount > 0 {
		var deps []string
		if p.DepsCount > 0 {
			deps = append(deps, fmt.Sprintf("%d production", p.DepsCount))
		}
		if p.DevDepsCount > 0 {
			deps = append(deps, fmt.Sprintf("%d dev", p.DevDepsCount))
		}
		lines = append(lines, "- Dependencies: "+strings.Join(deps, ", "))
	}

	if len(p.EntryPoints) > 0 {
		lines = append(lines, "- Entry: "+strings.Join(p.EntryPoints, ", "))
	}

	return strings.Join(lines, "\n")
}

func versionLabel(version string) string {
	if version == "" {
		return ""
	}
	return "v" + version
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
