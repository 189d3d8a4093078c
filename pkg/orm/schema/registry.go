package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps entity names to their descriptors and resolves metadata lazily.
// Resolved metadata is computed once per entity and never mutated afterwards.
type Registry struct {
	definitions map[string]Definition
	mu          sync.RWMutex
}

// NewRegistry creates a new registry pre-populated with the given definitions
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{definitions: make(map[string]Definition)}
	if err := r.Register(defs...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on a duplicate name
func MustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds entity definitions. Building their metadata is deferred until Resolve.
func (r *Registry) Register(defs ...Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range defs {
		if _, exists := r.definitions[def.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name())
		}
		r.definitions[def.Name()] = def
	}
	return nil
}

// Resolve returns the metadata of the named entity
func (r *Registry) Resolve(name string) (*EntityMetadata, error) {
	r.mu.RLock()
	def, exists := r.definitions[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	meta, err := def.Metadata()
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", name, err)
	}
	return meta, nil
}

// Exists checks if an entity name is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.definitions[name]
	return exists
}

// List returns the registered entity names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.definitions)
}
