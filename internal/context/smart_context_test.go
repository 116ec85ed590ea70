package context

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzePromptIntent(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := AnalyzePromptIntent("hello there", TaskGeneral)
		assert.Equal(t, 5, p[SectionProject])
		assert.Equal(t, 5, p[SectionGit])
		assert.Equal(t, 5, p[SectionImports])
		assert.Equal(t, 3, p[SectionMemory])
		assert.Equal(t, 4, p[SectionRetrieval])
	})

	t.Run("keywords lower priorities", func(t *testing.T) {
		p := AnalyzePromptIntent("fix the crash after my last commit", TaskGeneral)
		assert.Equal(t, 1, p[SectionGit])
		assert.Equal(t, 1, p[SectionMemory])
		assert.Equal(t, 2, p[SectionImports])
	})

	t.Run("task type never raises a keyword priority", func(t *testing.T) {
		p := AnalyzePromptIntent("install the package", TaskCodeGeneration)
		assert.Equal(t, 1, p[SectionProject])
		assert.Equal(t, 2, p[SectionImports])
	})

	t.Run("task boosts", func(t *testing.T) {
		review := AnalyzePromptIntent("hello", TaskCodeReview)
		assert.Equal(t, 2, review[SectionGit])
		assert.Equal(t, 1, review[SectionImports])

		analysis := AnalyzePromptIntent("hello", TaskFileAnalysis)
		assert.Equal(t, 1, analysis[SectionRetrieval])
		assert.Equal(t, 2, analysis[SectionImports])

		terminal := AnalyzePromptIntent("hello", TaskTerminalCommand)
		assert.Equal(t, 2, terminal[SectionProject])
	})
}

func TestBuildSmartContext(t *testing.T) {
	project := &ProjectInfo{Name: "app", ProjectType: "go"}

	t.Run("no snapshots", func(t *testing.T) {
		sc := BuildSmartContext(SmartContextInput{Prompt: "hi", Budget: 1000})
		assert.Empty(t, sc.Sections)
		assert.Zero(t, sc.TotalEstimatedTokens)
		assert.Equal(t, "", FormatSmartContextForPrompt(sc))
	})

	t.Run("sorted by priority with stable ties", func(t *testing.T) {
		sc := BuildSmartContext(SmartContextInput{
			Prompt:           "hello",
			TaskType:         TaskGeneral,
			Project:          project,
			GitSummary:       "- Branch: main",
			Memory:           "remember tabs",
			Imports:          []string{"a.go"},
			RetrievalSummary: "retrieved",
			Budget:           10000,
		})
		require.Len(t, sc.Sections, 5)
		types := make([]SectionType, 0, 5)
		for _, s := range sc.Sections {
			types = append(types, s.Type)
		}
		assert.Equal(t, []SectionType{SectionMemory, SectionRetrieval, SectionProject, SectionGit, SectionImports}, types)
	})

	t.Run("compresses high priority overflow", func(t *testing.T) {
		git := strings.Repeat("g", 1000)
		sc := BuildSmartContext(SmartContextInput{
			Prompt:     "show me the git history",
			GitSummary: git,
			Budget:     120,
		})
		require.Len(t, sc.Sections, 1)
		section := sc.Sections[0]
		assert.Equal(t, SectionGit, section.Type)
		assert.True(t, strings.HasSuffix(section.Content, "..."))
		assert.Equal(t, 119*4+3, len(section.Content))
		assert.Equal(t, 120, section.EstimatedTokens)
		assert.Equal(t, 120, sc.TotalEstimatedTokens)
	})

	t.Run("drops high priority overflow when little room is left", func(t *testing.T) {
		sc := BuildSmartContext(SmartContextInput{
			Prompt:     "git log",
			GitSummary: strings.Repeat("g", 1000),
			Budget:     50,
		})
		assert.Empty(t, sc.Sections)
	})

	t.Run("drops low priority overflow", func(t *testing.T) {
		sc := BuildSmartContext(SmartContextInput{
			Prompt:           "hello",
			RetrievalSummary: strings.Repeat("r", 1000),
			Memory:           "short memory",
			Budget:           100,
		})
		require.Len(t, sc.Sections, 1)
		assert.Equal(t, SectionMemory, sc.Sections[0].Type)
	})

	t.Run("memory keeps the last twenty lines", func(t *testing.T) {
		var lines []string
		for i := 0; i < 30; i++ {
			lines = append(lines, "entry")
		}
		lines[10] = "first kept"
		sc := BuildSmartContext(SmartContextInput{Memory: strings.Join(lines, "\n") + "\n\n", Budget: 1000})
		require.Len(t, sc.Sections, 1)
		kept := strings.Split(sc.Sections[0].Content, "\n")
		assert.Len(t, kept, 20)
		assert.Equal(t, "first kept", kept[0])
	})

	t.Run("imports use base names", func(t *testing.T) {
		sc := BuildSmartContext(SmartContextInput{
			Imports: []string{"src/lib/util.ts", `C:\work\main.go`},
			Budget:  1000,
		})
		require.Len(t, sc.Sections, 1)
		assert.Equal(t, "Imported files: util.ts, main.go", sc.Sections[0].Content)
		assert.Equal(t, "- Imported files: util.ts, main.go", FormatSmartContextForPrompt(sc))
	})

	t.Run("never exceeds budget", func(t *testing.T) {
		big := strings.Repeat("lorem ipsum ", 200)
		for mask := 0; mask < 32; mask++ {
			for budget := -10; budget <= 1500; budget += 37 {
				input := SmartContextInput{Prompt: "fix the git file error", TaskType: TaskCodeReview, Budget: budget}
				if mask&1 != 0 {
					input.Project = &ProjectInfo{Name: big, ProjectType: "node"}
				}
				if mask&2 != 0 {
					input.GitSummary = big
				}
				if mask&4 != 0 {
					input.Memory = big
				}
				if mask&8 != 0 {
					input.Imports = []string{big}
				}
				if mask&16 != 0 {
					input.RetrievalSummary = big
				}

				sc := BuildSmartContext(input)
				sum := 0
				for _, s := range sc.Sections {
					sum += s.EstimatedTokens
					assert.Equal(t, EstimateTokens(s.Content), s.EstimatedTokens)
				}
				assert.Equal(t, sum, sc.TotalEstimatedTokens)
				assert.LessOrEqual(t, sc.TotalEstimatedTokens, max(0, budget), "mask %d budget %d", mask, budget)
			}
		}
	})
}

func TestFormatSmartContextForPrompt(t *testing.T) {
	sc := SmartContext{Sections: []ContextSection{
		{Type: SectionProject, Content: "- Project: app (go)"},
		{Type: SectionMemory, Content: "use tabs"},
		{Type: SectionRetrieval, Content: "found x"},
	}}
	expected := "- Project: app (go)\n- Agent memory:\nuse tabs\nfound x"
	assert.Equal(t, expected, FormatSmartContextForPrompt(sc))
}

func TestFormatProjectSection(t *testing.T) {
	full := FormatProjectSection(ProjectInfo{
		Name:         "app",
		Version:      "1.2.0",
		ProjectType:  "node",
		Scripts:      []string{"build", "test", "a", "b", "c", "d", "e", "f", "g"},
		DepsCount:    3,
		DevDepsCount: 2,
		EntryPoints:  []string{"index.js"},
	})
	expected := strings.Join([]string{
		"- Project: app v1.2.0 (node)",
		"- Scripts: build, test, a, b, c, d, e, f",
		"- Dependencies: 3 production, 2 dev",
		"- Entry: index.js",
	}, "\n")
	assert.Equal(t, expected, full)

	assert.Equal(t, "- Project: unnamed (go)", FormatProjectSection(ProjectInfo{ProjectType: "go"}))
	assert.Equal(t, "- Project: v2 (rust)\n- Dependencies: 4 dev", FormatProjectSection(ProjectInfo{Version: "2", ProjectType: "rust", DevDepsCount: 4}))
}

func TestDetectTaskType(t *testing.T) {
	tests := []struct {
		input    string
		expected TaskType
	}{
		{"create a function that parses dates", TaskCodeGeneration},
		{"make a new folder for assets", TaskCodeGeneration},
		{"please review this code", TaskCodeReview},
		{"what's wrong with my loop", TaskCodeReview},
		{"show me the file contents", TaskFileAnalysis},
		{"list the files in /var", TaskFileAnalysis},
		{"run npm install", TaskTerminalCommand},
		{"how do I start the server", TaskTerminalCommand},
		{"what time zone is Paris in?", TaskQuickAnswer},
		{"Thanks, that was helpful.", TaskGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectTaskType(tt.input))
		})
	}
}
