package approval

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds bindings for commands queued behind a human approval.
// A binding lives from the moment the command is queued until it is
// consumed by a successful match or removed by the expiry owner; the
// registry itself applies no TTL.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]Binding)}
}

// Put stores a binding and returns the approval id handed to the human.
func (r *Registry) Put(b Binding) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pending[id] = b
	r.mu.Unlock()
	return id
}

// Get returns the binding for an approval id without consuming it.
func (r *Registry) Get(id string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[id]
	return b, ok
}

// Consume removes and returns the binding for an approval id. Callers
// consume only after a successful match, so a failed retry can be
// corrected and retried against the same approval.
func (r *Registry) Consume(id string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return b, ok
}

// Remove drops a binding, e.g. when the surrounding approval expires.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Len returns the number of pending bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
