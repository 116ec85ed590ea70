// Package snapshot gathers the ambient project state that the smart context builder
// ranks and fits into a request: project metadata, git state, agent memory, imports of
// the active file and files relevant to the prompt. Every provider is optional.
package snapshot

import (
	"context"

	"github.com/charmbracelet/log"

	contextmgmt "github.com/entrepeneur4lyf/chatforge/internal/context"
)

// ProjectProvider detects project metadata for a directory
type ProjectProvider interface {
	Project(ctx context.Context, root string) (*contextmgmt.ProjectInfo, error)
}

// GitProvider summarizes the git state of a directory
type GitProvider interface {
	GitSummary(ctx context.Context, root string) (string, error)
}

// MemoryProvider returns the persisted agent memory
type MemoryProvider interface {
	ReadMemory(ctx context.Context) (string, error)
}

// ImportsProvider resolves the local files imported by a source file
type ImportsProvider interface {
	Imports(ctx context.Context, file string) ([]string, error)
}

// RetrievalProvider returns a summary of content relevant to a query
type RetrievalProvider interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Request describes what the collector should gather for one turn
type Request struct {
	Prompt     string
	TaskType   contextmgmt.TaskType
	ActiveFile string
	Budget     int
}

// Collector asks each configured provider for its snapshot
type Collector struct {
	Root      string
	Project   ProjectProvider
	Git       GitProvider
	Memory    MemoryProvider
	Imports   ImportsProvider
	Retrieval RetrievalProvider
}

// Gather builds the smart context input for a turn. A failing provider only loses its section.
func (c *Collector) Gather(ctx context.Context, req Request) contextmgmt.SmartContextInput {
	input := contextmgmt.SmartContextInput{
		Prompt:   req.Prompt,
		TaskType: req.TaskType,
		Budget:   req.Budget,
	}

	if c.Project != nil && c.Root != "" {
		if p, err := c.Project.Project(ctx, c.Root); err != nil {
			log.Debug("Project snapshot unavailable", "root", c.Root, "err", err)
		} else {
			input.Project = p
		}
	}

	if c.Git != nil && c.Root != "" {
		if summary, err := c.Git.GitSummary(ctx, c.Root); err != nil {
			log.Debug("Git snapshot unavailable", "root", c.Root, "err", err)
		} else {
			input.GitSummary = summary
		}
	}

	if c.Memory != nil {
		if memory, err := c.Memory.ReadMemory(ctx); err != nil {
			log.Debug("Agent memory unavailable", "err", err)
		} else {
			input.Memory = memory
		}
	}

	if c.Imports != nil && req.ActiveFile != "" {
		if imports, err := c.Imports.Imports(ctx, req.ActiveFile); err != nil {
			log.Debug("Import scan failed", "file", req.ActiveFile, "err", err)
		} else {
			input.Imports = imports
		}
	}

	if c.Retrieval != nil && req.Prompt != "" {
		if summary, err := c.Retrieval.Retrieve(ctx, req.Prompt); err != nil {
			log.Debug("Retrieval failed", "err", err)
		} else {
			input.RetrievalSummary = summary
		}
	}

	return input
}
