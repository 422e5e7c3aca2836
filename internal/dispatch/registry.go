package dispatch

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Factory creates a fresh backend.
type Factory func() (Backend, error)

// Module is implemented by packages that provide backends.
type Module interface {
	Register(r *Registry)
}

// Registry maps backend names to factories. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	defaultName string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Deregister removes name, reporting whether it was registered.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[name]
	delete(r.factories, name)
	if r.defaultName == name {
		r.defaultName = ""
	}
	return ok
}

// Names returns the registered names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// SetDefault selects the backend used when callers pass an empty name.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Default returns the default backend name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Create builds a backend by name. An empty name selects the default.
func (r *Registry) Create(name string) (Backend, error) {
	r.mu.RLock()
	if name == "" {
		name = r.defaultName
	}
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDispatcher, name, r.Names())
	}
	backend, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher %q: %w", name, err)
	}
	return backend, nil
}

// NewDispatcher creates the named backend and wraps it in a Dispatcher.
func (r *Registry) NewDispatcher(name string, hooks *Hooks) (*Dispatcher, error) {
	if name == "" {
		name = r.Default()
	}
	backend, err := r.Create(name)
	if err != nil {
		return nil, err
	}
	return New(name, backend, hooks), nil
}
