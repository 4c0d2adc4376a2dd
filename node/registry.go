package node

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownType is returned when a type name has no registered factory.
var ErrUnknownType = errors.New("unknown node type")

// Factory returns a new, unconnected node of one type.
type Factory func() Node

// Registry maps type names to node factories.  It is safe for concurrent use and is
// passed to whatever needs to construct nodes by name instead of living in a global.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory.  Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.factories[name]; found {
		return fmt.Errorf("node type %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New returns a new node of the named type.
func (r *Registry) New(name string) (Node, error) {
	r.mu.RLock()
	f, found := r.factories[name]
	r.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%q: %w (registered: %s)", name, ErrUnknownType, strings.Join(r.Names(), ", "))
	}
	return f(), nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
