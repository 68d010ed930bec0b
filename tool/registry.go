package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/smallnest/workflowgo/graph"
)

// ErrNotRegistered is returned when a callable name is unknown.
var ErrNotRegistered = errors.New("tool not registered")

// ErrAlreadyRegistered is returned when a callable name is taken.
var ErrAlreadyRegistered = errors.New("tool already registered")

// Registry maps callable names to tool functions. It is safe for
// concurrent use and implements graph.ToolResolver.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]graph.ToolFunc
}

var _ graph.ToolResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]graph.ToolFunc)}
}

// Register binds a name to a tool function. Registering an existing name
// fails; use Unregister first to replace a tool.
func (r *Registry) Register(name string, fn graph.ToolFunc) error {
	if name == "" {
		return errors.New("tool name is empty")
	}
	if fn == nil {
		return fmt.Errorf("tool %q: nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.tools[name] = fn
	return nil
}

// Unregister removes a name. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool bound to name.
func (r *Registry) Get(name string) (graph.ToolFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered callable names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
