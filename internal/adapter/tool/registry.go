package tool

import (
	"log/slog"
	"sort"
	"sync"

	"devagent/internal/domain"
)

// Registry is the central catalogue of available tools plus the global
// middleware chain applied to every execution.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]domain.Tool
	middleware []Middleware
	logger     *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool keyed by its name. The last registration for a name
// wins; replacing an existing tool is logged but not an error.
func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool re-registered, previous replaced", "tool", name)
	}
	r.tools[name] = t
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns all tool schemas sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

// Use appends a middleware to the global chain. Global middleware wraps
// every tool call, outermost-first on entry and innermost-first on exit.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Middleware returns a snapshot of the global middleware chain in
// registration order.
func (r *Registry) Middleware() []Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make([]Middleware, len(r.middleware))
	copy(chain, r.middleware)
	return chain
}
