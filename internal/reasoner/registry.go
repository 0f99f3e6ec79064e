package reasoner

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the available reasoning-service adapters.
type Registry struct {
	mu        sync.RWMutex
	reasoners map[string]Reasoner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		reasoners: make(map[string]Reasoner),
	}
}

// Register adds a reasoner to the registry. A reasoner with the same name
// replaces the previous one.
func (r *Registry) Register(re Reasoner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoners[re.Name()] = re
}

// Get retrieves a reasoner by name.
func (r *Registry) Get(name string) (Reasoner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	re, ok := r.reasoners[name]
	if !ok {
		return nil, fmt.Errorf("reasoner not found: %s", name)
	}
	return re, nil
}

// Has checks if a reasoner with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.reasoners[name]
	return ok
}

// List returns all registered reasoners sorted by name.
func (r *Registry) List() []Reasoner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Reasoner, 0, len(r.reasoners))
	for _, re := range r.reasoners {
		out = append(out, re)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
