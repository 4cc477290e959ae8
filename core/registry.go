package core

import (
	"fmt"
	"sync"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// Registry is the thread-safe name-keyed Provider/OAuthProvider lookup.
// Registering a Provider that supports OAuth also registers its OAuth provider
// under the same name.
type Registry struct {
	mu        sync.RWMutex
	providers map[schemas.ModelProvider]schemas.Provider
	oauth     map[schemas.ModelProvider]schemas.OAuthProvider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[schemas.ModelProvider]schemas.Provider),
		oauth:     make(map[schemas.ModelProvider]schemas.OAuthProvider),
	}
}

// Register adds p under p.Name(), auto-registering its OAuth provider when
// p implements OAuthCapable and SupportsOAuth() is true.
func (r *Registry) Register(p schemas.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	if oc, ok := p.(schemas.OAuthCapable); ok && oc.SupportsOAuth() {
		r.oauth[p.Name()] = oc.GetOAuthProvider()
	}
}

// Get looks up a provider by name.
func (r *Registry) Get(name schemas.ModelProvider) (schemas.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("registry: provider %q not registered", name)
	}
	return p, nil
}

// GetOAuth looks up the OAuth provider registered for name, if any.
func (r *Registry) GetOAuth(name schemas.ModelProvider) (schemas.OAuthProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.oauth[name]
	return p, ok
}

// IsRegistered reports whether name has a registered provider.
func (r *Registry) IsRegistered(name schemas.ModelProvider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Unregister removes name from both maps. Exposed for tests.
func (r *Registry) Unregister(name schemas.ModelProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.oauth, name)
}

// Clear removes every registration. Exposed for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[schemas.ModelProvider]schemas.Provider)
	r.oauth = make(map[schemas.ModelProvider]schemas.OAuthProvider)
}

// Names lists every registered provider name.
func (r *Registry) Names() []schemas.ModelProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]schemas.ModelProvider, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}
