// Package registry holds the validated OAuth provider configurations known to
// the process
package registry

import (
	"slices"
	"sync"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// Registry maps provider names to their configuration. Entries are copied on
// the way in and out so callers cannot mutate registered providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*oauth.Provider
	order     []string
}

// New creates a registry pre-populated with providers
func New(providers ...oauth.Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]*oauth.Provider)}
	for i := range providers {
		if err := r.Add(providers[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add validates p and stores it, replacing any provider with the same name
func (r *Registry) Add(p oauth.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.providers[p.Name] = p.Clone()
	return nil
}

// Remove deletes a provider; removing an unknown name is a no-op
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		return
	}
	delete(r.providers, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
}

// Get returns a copy of the named provider
func (r *Registry) Get(name string) (*oauth.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Names returns registered provider names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
