package provider

import (
	"fmt"
	"sync"

	"github.com/ShayCichocki/orca/pkg/models"
)

// Registry holds providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates a registry with the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[p.Name()]; ok {
		for i, existing := range r.providers {
			if existing.Name() == p.Name() {
				r.providers[i] = p
			}
		}
	} else {
		r.providers = append(r.providers, p)
	}
	r.byName[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Available returns the available providers serving tier. Providers named in
// priority come first in that order; the rest follow in registration order.
func (r *Registry) Available(tier models.Tier, priority []string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)
	add := func(p Provider) {
		if seen[p.Name()] {
			return
		}
		seen[p.Name()] = true
		if Serves(p, tier) && p.IsAvailable() {
			out = append(out, p)
		}
	}

	for _, name := range priority {
		if p, ok := r.byName[name]; ok {
			add(p)
		}
	}
	for _, p := range r.providers {
		add(p)
	}
	return out
}

// First returns the highest-priority available provider for tier.
func (r *Registry) First(tier models.Tier, priority []string) (Provider, error) {
	ps := r.Available(tier, priority)
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w for tier %s", ErrNoProvider, tier)
	}
	return ps[0], nil
}
