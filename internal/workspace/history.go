package workspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxVersionsPerFile bounds the undo stack of a single file
const maxVersionsPerFile = 20

// FileVersion is the content a file had before a tool changed it
type FileVersion struct {
	ID      string
	Path    string
	Content string
	// Existed is false when the tool created the file
	Existed   bool
	Tool      string
	CreatedAt time.Time
}

// History keeps in-memory versions of files touched by mutating tools
type History struct {
	mu       sync.Mutex
	versions map[string][]FileVersion
	now      func() time.Time
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{
		versions: make(map[string][]FileVersion),
		now:      time.Now,
	}
}

// Record saves the state of path before tool modifies it
func (h *History) Record(path, content string, existed bool, tool string) FileVersion {
	h.mu.Lock()
	defer h.mu.Unlock()

	v := FileVersion{
		ID:        uuid.New().String(),
		Path:      path,
		Content:   content,
		Existed:   existed,
		Tool:      tool,
		CreatedAt: h.now(),
	}

	stack := append(h.versions[path], v)
	if len(stack) > maxVersionsPerFile {
		stack = stack[len(stack)-maxVersionsPerFile:]
	}
	h.versions[path] = stack
	return v
}

// Pop removes and returns the newest version of path
func (h *History) Pop(path string) (FileVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stack := h.versions[path]
	if len(stack) == 0 {
		return FileVersion{}, fmt.Errorf("no recorded version of %s", path)
	}
	v := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(h.versions, path)
	} else {
		h.versions[path] = stack[:len(stack)-1]
	}
	return v, nil
}

// Versions returns the recorded versions of path, oldest first
func (h *History) Versions(path string) []FileVersion {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]FileVersion(nil), h.versions[path]...)
}
