// Package registry tracks which workers currently have a live OS process.
// It holds at most one handle per worker id.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAlreadyRegistered is returned when a worker already has a live handle.
var ErrAlreadyRegistered = errors.New("worker already has a live process")

// Registry maps worker ids to live process handles. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register stores h under its worker id. A worker that already has a handle
// is rejected; callers must Remove the old handle first.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[h.WorkerID]; ok {
		return fmt.Errorf("registry: %w: %s (pid %d)", ErrAlreadyRegistered, h.WorkerID, existing.PID)
	}
	r.handles[h.WorkerID] = h
	return nil
}

// Get returns the live handle for workerID, if any.
func (r *Registry) Get(workerID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[workerID]
	return h, ok
}

// Remove deletes h from the registry only if it is still the handle
// registered for its worker. It reports whether anything was removed, so a
// late exit notification can never evict a newer process.
func (r *Registry) Remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.WorkerID]; ok && cur == h {
		delete(r.handles, h.WorkerID)
		return true
	}
	return false
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// List returns the worker ids with live handles, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
