// Package registry is the process-wide, thread-safe mapping from provider
// name to adapter. It guarantees at-most-one adapter per name at any
// instant; Register and Unregister are the only mutations, lookups dominate.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/provhub/hub/pkg/provider"
)

// ErrProviderNotFound is returned by Lookup and Unregister when no adapter is
// registered under the given name.
var ErrProviderNotFound = errors.New("registry: provider not found")

// Registry is the Source of Truth for installed provider adapters.
type Registry interface {
	// Register installs or replaces the adapter for name. Replacement of an
	// existing name drops the previous adapter cleanly (no partial state).
	Register(name string, adapter provider.Adapter) error
	// Lookup returns the adapter registered under name, or
	// ErrProviderNotFound.
	Lookup(name string) (provider.Adapter, error)
	// List returns every registered name in sorted order.
	List() []string
	// Unregister removes name from the registry.
	Unregister(name string) error
}

// InMemoryRegistry is a thread-safe in-memory Registry. It is the only
// Registry implementation the hub needs: provider descriptors are
// process-scoped (inserted at server start or by a plugin-load request,
// dropped on process exit) and never touch the durable entities table.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	providers map[string]provider.Adapter
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		providers: make(map[string]provider.Adapter),
	}
}

func (r *InMemoryRegistry) Register(name string, adapter provider.Adapter) error {
	if name == "" {
		return errors.New("registry: empty provider name")
	}
	if adapter == nil {
		return errors.New("registry: nil adapter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Replacement drops the previous adapter cleanly: the map assignment is
	// the only reference to it, so it becomes eligible for GC immediately.
	r.providers[name] = adapter
	return nil
}

func (r *InMemoryRegistry) Lookup(name string) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return a, nil
}

func (r *InMemoryRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return ErrProviderNotFound
	}
	delete(r.providers, name)
	return nil
}
