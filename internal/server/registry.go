package server

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Registry maps connection identities to live clients. Identities come from
// a counter that never goes backwards, so an identity is never handed out
// twice even after its connection is gone.
type Registry struct {
	lastID atomic.Int64

	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewRegistry creates an empty registry whose first identity is 1.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[int64]*Client)}
}

// NextIdentity returns an identity not used by any connection so far.
func (r *Registry) NextIdentity() int64 {
	return r.lastID.Add(1)
}

// Register inserts c under its identity.
func (r *Registry) Register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateIdentity, c.id)
	}
	r.clients[c.id] = c
	return nil
}

// Lookup returns the live client registered under id.
func (r *Registry) Lookup(id int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// Remove deletes id and reports whether it was present. Removing an absent
// identity is a no-op.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Snapshot returns the clients registered at the time of the call. Callers
// iterate the snapshot, never the map itself.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
