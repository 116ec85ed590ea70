package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMemoryCategory is used when an entry is appended without a category
const DefaultMemoryCategory = "general"

// MemoryFile is agent memory kept as an append-only text file
type MemoryFile struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewMemoryFile creates a memory backed by the file at path
func NewMemoryFile(path string) *MemoryFile {
	return &MemoryFile{path: path, now: time.Now}
}

// ReadMemory returns the whole memory; a missing file is empty memory
func (m *MemoryFile) ReadMemory(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read memory: %w", err)
	}
	return string(data), nil
}

// Append adds a timestamped entry on a new line, e.g. "[2026-03-01 14:05] [decision] use libsql"
func (m *MemoryFile) Append(_ context.Context, entry, category string) error {
	if category == "" {
		category = DefaultMemoryCategory
	}
	line := fmt.Sprintf("\n[%s] [%s] %s", m.now().UTC().Format("2006-01-02 15:04"), category, entry)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open memory: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append memory: %w", err)
	}
	return nil
}
