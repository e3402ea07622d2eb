package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the closed set of compute backend variants keyed by kind.
// Adding a backend means registering a new variant here; the lifecycle
// manager never changes.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Compute
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Compute),
	}
}

// Register adds a backend variant under the given kind.
func (r *Registry) Register(kind string, b Compute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = b
}

// Resolve returns the backend registered for the given kind.
func (r *Registry) Resolve(kind string) (Compute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("backend %q is not registered", kind)
	}
	return b, nil
}

// Kinds returns the registered backend kinds, sorted for a stable API
// response.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.backends))
	for kind := range r.backends {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
