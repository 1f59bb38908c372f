package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

// Registry manages available tools with thread-safe registration and lookup.
// Registration is last-write-wins by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool by its name, replacing any existing tool of that name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool of that name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the registered tools sorted by name, so tool definition
// arrays sent to providers are stable across iterations and runs.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Clone returns a shallow copy. The agent loop uses this to build per-turn
// tool sets without mutating the shared base registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for name, tool := range r.tools {
		clone.tools[name] = tool
	}
	return clone
}

// Execute runs a tool by name. An unknown name yields an error-shaped result,
// never an error return, so the executor can feed it back to the model.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result *models.ToolResult) {
	tool, ok := r.Get(name)
	if !ok {
		return Errorf("tool not found: %s", name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = Errorf("tool %s panicked: %v", name, rec)
		}
	}()
	res := tool.Execute(ctx, params)
	if res == nil {
		return Errorf("tool %s returned no result", name)
	}
	return res
}
