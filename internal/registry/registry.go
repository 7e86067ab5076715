// Package registry keeps the display names claimed by connected clients.
package registry

import (
	"sync"

	"github.com/samber/lo"
)

// Registry maps connection identities to display names. Entries are never
// removed: a client that disconnects keeps its name in every later snapshot.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		names: make(map[string]string),
	}
}

// Register sets the display name for id, replacing any previous one.
func (r *Registry) Register(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names[id] = name
}

// Lookup returns the display name registered for id, or id itself when the
// connection never registered.
func (r *Registry) Lookup(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.names[id]; ok {
		return name
	}
	return id
}

// Snapshot returns every registered display name in unspecified order.
// The returned slice is owned by the caller.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.names)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names)
}
