package engine

import (
	"sync"

	"github.com/kis-core/execution/internal/symbolstate"
)

// Registry is the shared symbol -> State map every other component reads
// from: dispatch.Registry for tick fan-out, oms.Registry for
// reconciliation, and the engine's own FSM drive loop.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*symbolstate.State
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*symbolstate.State)}
}

// Get satisfies dispatch.Registry.
func (r *Registry) Get(symbol string) (*symbolstate.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[symbol]
	return st, ok
}

// All satisfies oms.Registry.
func (r *Registry) All() map[string]*symbolstate.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*symbolstate.State, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Add registers a new symbol's State, replacing any prior entry for the
// same symbol (used when building the day's universe).
func (r *Registry) Add(st *symbolstate.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.Symbol()] = st
}

// Symbols returns the registered symbols in no particular order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.states))
	for k := range r.states {
		out = append(out, k)
	}
	return out
}
