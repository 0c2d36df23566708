package factory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/instructflow/llm"
)

// Registry is a thread-safe set of named providers with an optional default.
type Registry struct {
	providers       map[string]llm.Provider
	defaultProvider string
	mu              sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]llm.Provider)}
}

// Register adds p under name, replacing any provider of the same name.
func (r *Registry) Register(name string, p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Get(name string) (llm.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve returns the provider called name, or the default when name is empty.
func (r *Registry) Resolve(name string) (llm.Provider, error) {
	if name == "" {
		return r.Default()
	}
	if p, ok := r.Get(name); ok {
		return p, nil
	}
	return nil, fmt.Errorf("provider %q not registered", name)
}

// Default returns the default provider.
func (r *Registry) Default() (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultProvider == "" {
		if len(r.providers) == 1 {
			for _, p := range r.providers {
				return p, nil
			}
		}
		return nil, fmt.Errorf("no default provider set")
	}
	p, ok := r.providers[r.defaultProvider]
	if !ok {
		return nil, fmt.Errorf("default provider %q not found in registry", r.defaultProvider)
	}
	return p, nil
}

// SetDefault designates an already registered provider as the default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// List returns the sorted names of all registered providers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
