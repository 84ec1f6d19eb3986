package engine

import "sync"

// Registry tracks the live engine of every in-flight call in this
// process. Telephony events look their engine up by call id.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Add registers a call's engine. It reports false when the call already
// has one.
func (r *Registry) Add(callID string, e *Engine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[callID]; exists {
		return false
	}

	r.engines[callID] = e

	return true
}

// Get returns the engine for a call, or nil.
func (r *Registry) Get(callID string) *Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.engines[callID]
}

// Remove drops a call's engine.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.engines, callID)
}

// Len reports how many calls are in flight.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.engines)
}

// StopAll cancels every live engine, used on worker shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.engines {
		e.Stop()
	}
}
