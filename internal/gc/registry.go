package gc

import "sync"

// Registry is the collector's view of the VM's external module table: the
// set of namespace-kind values a lookup (import, reflection, the debugger)
// can reach without going through an ordinary reference slot. The Deregister
// phase removes a dying namespace from it before CycRefInc runs, so the
// registry itself can never act as an unaccounted root that resurrects a
// namespace the scan already proved unreachable.
type Registry struct {
	mu      sync.Mutex
	modules map[Value]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[Value]struct{})}
}

// Register records v as externally reachable. Safe to call from any
// goroutine.
func (r *Registry) Register(v Value) {
	r.mu.Lock()
	r.modules[v] = struct{}{}
	r.mu.Unlock()
}

// Deregister removes v. A no-op if v was never registered.
func (r *Registry) Deregister(v Value) {
	r.mu.Lock()
	delete(r.modules, v)
	r.mu.Unlock()
}

// Len reports how many modules are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}
