package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/entrepeneur4lyf/chatforge/internal/storage"
)

const customTemplatesKey = "ai_prompt_templates"

// Template is a reusable prompt reached through a slash command
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
	Category    string `json:"category"`
	BuiltIn     bool   `json:"builtIn"`
}

// TemplateContext fills the placeholders of a template
type TemplateContext struct {
	Selection string
	FileName  string
	FilePath  string
}

// DefaultTemplates returns the built-in templates
func DefaultTemplates() []Template {
	return markBuiltIn([]Template{
		{
			ID: "review", Name: "Code Review", Command: "/review", Category: "code",
			Description: "Review code for bugs, security issues, and best practices",
			Prompt:      "Review the following code for bugs, security vulnerabilities, performance issues, and adherence to best practices. Provide specific, actionable feedback:\n\n{{selection}}",
		},
		{
			ID: "refactor", Name: "Refactor", Command: "/refactor", Category: "code",
			Description: "Suggest refactoring improvements",
			Prompt:      "Refactor the following code to improve readability, maintainability, and performance. Explain each change:\n\n{{selection}}",
		},
		{
			ID: "explain", Name: "Explain Code", Command: "/explain", Category: "code",
			Description: "Explain what code does line by line",
			Prompt:      "Explain what this code does, step by step. Include the purpose, data flow, and any notable patterns or potential issues:\n\n{{selection}}",
		},
		{
			ID: "debug", Name: "Debug", Command: "/debug", Category: "debug",
			Description: "Help debug an issue",
			Prompt:      "I have a bug in my code. Help me identify the root cause and suggest a fix. Here is the relevant code and the error/behavior I am seeing:\n\n{{selection}}",
		},
		{
			ID: "tests", Name: "Generate Tests", Command: "/tests", Category: "code",
			Description: "Generate unit tests",
			Prompt:      "Generate comprehensive unit tests for the following code. Cover edge cases, error handling, and typical usage:\n\n{{selection}}",
		},
		{
			ID: "docs", Name: "Documentation", Command: "/docs", Category: "docs",
			Description: "Generate documentation",
			Prompt:      "Generate clear, concise documentation for the following code. Include purpose, parameters, return values, usage examples, and any important notes:\n\n{{selection}}",
		},
		{
			ID: "security", Name: "Security Audit", Command: "/security", Category: "security",
			Description: "Audit code for security vulnerabilities",
			Prompt:      "Perform a security audit on the following code. Check for OWASP top 10 vulnerabilities, injection risks, authentication issues, data exposure, and other security concerns:\n\n{{selection}}",
		},
		{
			ID: "optimize", Name: "Optimize", Command: "/optimize", Category: "code",
			Description: "Optimize code for performance",
			Prompt:      "Optimize the following code for better performance. Identify bottlenecks, suggest algorithmic improvements, and reduce resource usage:\n\n{{selection}}",
		},
		{
			ID: "fix", Name: "Fix Error", Command: "/fix", Category: "debug",
			Description: "Fix a specific error message",
			Prompt:      "I am getting the following error. Help me understand and fix it:\n\nError: {{selection}}",
		},
		{
			ID: "convert", Name: "Convert", Command: "/convert", Category: "code",
			Description: "Convert code between languages/formats",
			Prompt:      "Convert the following code to {{target_language}}. Maintain the same logic and use idiomatic patterns for the target language:\n\n{{selection}}",
		},
		{
			ID: "commit", Name: "Commit Message", Command: "/commit", Category: "general",
			Description: "Generate a commit message",
			Prompt:      "Generate a conventional commit message for the following changes. Use the format: type(scope): description\n\nChanges:\n{{selection}}",
		},
		{
			ID: "summarize", Name: "Summarize", Command: "/summarize", Category: "general",
			Description: "Summarize code or text",
			Prompt:      "Provide a concise summary of the following. Include key points, architecture decisions, and notable patterns:\n\n{{selection}}",
		},
		{
			ID: "typedefs", Name: "Type Definitions", Command: "/types", Category: "code",
			Description: "Generate type definitions",
			Prompt:      "Generate type definitions for the following data structures or API responses. Use strict types and avoid catch-all types:\n\n{{selection}}",
		},
		{
			ID: "analyze-ui", Name: "Analyze UI", Command: "/analyze-ui", Category: "analysis",
			Description: "Analyze a UI for layout, accessibility, and UX issues",
			Prompt: "Analyze this UI in detail:\n\n" +
				"1. **Component Inventory**: List all visible UI elements\n" +
				"2. **Layout Analysis**: Evaluate structure, spacing, alignment, and visual hierarchy\n" +
				"3. **Accessibility Audit** (WCAG 2.1 AA): contrast, labels, focus indicators, touch targets\n" +
				"4. **Responsive Design**: mobile (375px), tablet (768px) and desktop (1440px)\n" +
				"5. **UX Issues**: confusing flows, missing feedback states, unclear calls to action\n" +
				"6. **Recommendations**: prioritized improvements with estimated effort (low/medium/high)\n\n{{selection}}",
		},
		{
			ID: "performance", Name: "Performance", Command: "/performance", Category: "analysis",
			Description: "Analyze code for performance bottlenecks and optimization opportunities",
			Prompt: "Analyze this code for performance issues:\n\n" +
				"1. **Bottlenecks**: quadratic or worse algorithms, unnecessary work, memory leaks\n" +
				"2. **Optimization Opportunities**: memoization, lazy loading, caching, batching\n" +
				"3. **Resource Usage**: large allocations and GC pressure\n" +
				"4. **Async Patterns**: missing parallelization, waterfall requests, blocking operations\n" +
				"5. **Bundle Impact**: large imports that could be split\n\n{{selection}}",
		},
	})
}

func markBuiltIn(templates []Template) []Template {
	for i := range templates {
		templates[i].BuiltIn = true
	}
	return templates
}

// ResolveTemplate substitutes {{selection}}, {{fileName}} and {{filePath}}.
// Other placeholders such as {{target_language}} are left for the user to fill.
func ResolveTemplate(t Template, tc TemplateContext) string {
	return strings.NewReplacer(
		"{{selection}}", tc.Selection,
		"{{fileName}}", tc.FileName,
		"{{filePath}}", tc.FilePath,
	).Replace(t.Prompt)
}

// MatchTemplates returns the templates an input starting with "/" may refer to.
// A bare "/" matches every template; otherwise the command prefix or a name substring must match.
func MatchTemplates(input string, templates []Template) []Template {
	query, ok := strings.CutPrefix(input, "/")
	if !ok {
		return nil
	}
	query = strings.ToLower(query)
	if query == "" {
		return templates
	}

	var matched []Template
	for _, t := range templates {
		if strings.HasPrefix(strings.TrimPrefix(t.Command, "/"), query) || strings.Contains(strings.ToLower(t.Name), query) {
			matched = append(matched, t)
		}
	}
	return matched
}

// ExpandSlashCommand turns "/command rest" into the resolved prompt of the template whose
// command is exactly "/command", using rest as the selection
func ExpandSlashCommand(input string, templates []Template, tc TemplateContext) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return input, false
	}

	command, rest := trimmed, ""
	if i := strings.IndexAny(trimmed, " \t\n"); i >= 0 {
		command, rest = trimmed[:i], trimmed[i+1:]
	}
	for _, t := range templates {
		if strings.EqualFold(t.Command, command) {
			if rest = strings.TrimSpace(rest); rest != "" {
				tc.Selection = rest
			}
			return ResolveTemplate(t, tc), true
		}
	}
	return input, false
}

// TemplateStore keeps user templates in a KV store next to the built-in ones
type TemplateStore struct {
	store storage.KVStore
}

// NewTemplateStore creates a template store backed by store
func NewTemplateStore(store storage.KVStore) *TemplateStore {
	return &TemplateStore{store: store}
}

// Custom returns the user templates. A missing key yields none.
func (s *TemplateStore) Custom(ctx context.Context) ([]Template, error) {
	raw, err := s.store.Get(ctx, customTemplatesKey)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var templates []Template
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		return nil, fmt.Errorf("failed to decode custom templates: %w", err)
	}
	for i := range templates {
		templates[i].BuiltIn = false
	}
	return templates, nil
}

// All returns the built-in templates followed by the user templates sorted by command
func (s *TemplateStore) All(ctx context.Context) ([]Template, error) {
	custom, err := s.Custom(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(custom, func(i, j int) bool { return custom[i].Command < custom[j].Command })
	return append(DefaultTemplates(), custom...), nil
}

// SaveCustom persists the templates that are not built in
func (s *TemplateStore) SaveCustom(ctx context.Context, templates []Template) error {
	custom := make([]Template, 0, len(templates))
	for _, t := range templates {
		if !t.BuiltIn {
			custom = append(custom, t)
		}
	}

	data, err := json.Marshal(custom)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, customTemplatesKey, string(data))
}
