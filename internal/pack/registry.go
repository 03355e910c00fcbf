package pack

import (
	"sync"

	"github.com/tailordesk/tailordesk/internal/storage"
)

// Registry is the process-wide table of loaded packs. It is constructed
// with a file system gateway rather than initialized lazily; a zero-value
// Registry fails every call with ErrNotInitialized. All access is
// mutex-guarded: the manager and the sync service mutate it concurrently.
type Registry struct {
	mu sync.RWMutex

	gw    storage.Gateway
	hosts map[string]*Host
	order []string
}

// NewRegistry creates a registry backed by the gateway.
func NewRegistry(gw storage.Gateway) *Registry {
	return &Registry{
		gw:    gw,
		hosts: make(map[string]*Host),
	}
}

// Gateway returns the file system gateway the registry was built with.
func (r *Registry) Gateway() storage.Gateway {
	return r.gw
}

// Register adds a host under its pack id.
func (r *Registry) Register(h *Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gw == nil {
		return ErrNotInitialized
	}
	if _, exists := r.hosts[h.ID()]; exists {
		return ErrAlreadyLoaded
	}
	r.hosts[h.ID()] = h
	r.order = append(r.order, h.ID())
	return nil
}

// Remove takes a host out of the registry, returning it for teardown. A
// missing id returns nil with no error so unload stays idempotent.
func (r *Registry) Remove(id string) (*Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gw == nil {
		return nil, ErrNotInitialized
	}
	h, exists := r.hosts[id]
	if !exists {
		return nil, nil
	}
	delete(r.hosts, id)
	for i, n := range r.order {
		if n == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return h, nil
}

// Get returns the host for a pack id.
func (r *Registry) Get(id string) (*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.gw == nil {
		return nil, ErrNotInitialized
	}
	h, exists := r.hosts[id]
	if !exists {
		return nil, ErrPackNotLoaded
	}
	return h, nil
}

// List returns all loaded hosts in load order. The slice is never nil.
func (r *Registry) List() ([]*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.gw == nil {
		return nil, ErrNotInitialized
	}
	hosts := make([]*Host, 0, len(r.order))
	for _, id := range r.order {
		if h, exists := r.hosts[id]; exists {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// Count returns the number of loaded packs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}
