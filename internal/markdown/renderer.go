// Package markdown renders assistant replies and tool outcomes for the terminal.
package markdown

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// RendererConfig holds configuration for markdown rendering
type RendererConfig struct {
	Width int
	// Style is a glamour style name; empty picks one from the terminal background
	Style string
}

// ChatConfig returns the configuration used for chat replies
func ChatConfig() RendererConfig {
	return RendererConfig{Width: 100}
}

// Renderer wraps glamour for chat output
type Renderer struct {
	glamourRenderer *glamour.TermRenderer
}

// NewRenderer creates a markdown renderer with the given configuration
func NewRenderer(config RendererConfig) (*Renderer, error) {
	if config.Width <= 0 {
		config.Width = 80
	}

	style := glamour.WithAutoStyle()
	if config.Style != "" {
		style = glamour.WithStandardStyle(config.Style)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(config.Width))
	if err != nil {
		return nil, fmt.Errorf("failed to create glamour renderer: %w", err)
	}
	return &Renderer{glamourRenderer: r}, nil
}

// Render renders markdown to styled terminal output. On failure the trimmed input is returned
// together with the error so callers can still print something.
func (r *Renderer) Render(markdown string) (string, error) {
	markdown = trimTrailing(markdown)
	if markdown == "" {
		return "", nil
	}

	rendered, err := r.glamourRenderer.Render(markdown)
	if err != nil {
		return markdown, fmt.Errorf("failed to render markdown: %w", err)
	}
	return collapseBlankLines(rendered), nil
}

// trimTrailing strips trailing blanks from every line outside code fences
func trimTrailing(markdown string) string {
	lines := strings.Split(markdown, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i] = strings.TrimRight(line, " \t")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collapseBlankLines keeps at most one consecutive blank line
func collapseBlankLines(rendered string) string {
	lines := strings.Split(rendered, "\n")
	result := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
