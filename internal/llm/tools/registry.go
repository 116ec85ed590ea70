package tools

import (
	"sort"
	"sync"
)

// Registry maps tool names to their implementations
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds or replaces a tool
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool definition sorted by name
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SafeTools returns the tools that run without approval, sorted by name
func (r *Registry) SafeTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var safe []Tool
	for _, t := range r.tools {
		if t.DangerLevel() == DangerSafe {
			safe = append(safe, t)
		}
	}
	sort.Slice(safe, func(i, j int) bool { return safe[i].Name() < safe[j].Name() })
	return safe
}

// RequiresApproval reports whether a call needs approval; unknown tools always do
func (r *Registry) RequiresApproval(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return true
	}
	return t.DangerLevel() != DangerSafe
}
