package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps provider names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]LLMProvider)}
}

func (r *Registry) Register(p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not found: %s", name)
	}
	return p, nil
}

// List returns the registered names, sorted.
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

var defaultRegistry = NewRegistry()

// Default is the process-wide registry filled during bootstrap.
func Default() *Registry { return defaultRegistry }

func RegisterProvider(p LLMProvider) { defaultRegistry.Register(p) }

func GetProvider(name string) (LLMProvider, error) { return defaultRegistry.Get(name) }

func ListProviders() []string { return defaultRegistry.List() }
