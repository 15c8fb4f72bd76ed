// File: internal/recovery/registry.go
package recovery

import (
	"sort"
	"sync"

	"github.com/jsodeh/sabi/api/schemas"
)

// Registry holds the per-category ordered recovery-action lists. It is owned
// by the Handler for its lifetime and safe for concurrent reads.
type Registry struct {
	mu      sync.RWMutex
	actions map[schemas.ErrorCategory][]schemas.RecoveryAction
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[schemas.ErrorCategory][]schemas.RecoveryAction),
	}
}

// Register appends a candidate action for the category.
func (r *Registry) Register(category schemas.ErrorCategory, action schemas.RecoveryAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[category] = append(r.actions[category], action)
}

// ActionsFor returns the category's candidates filtered to the strategy kinds
// the error declares applicable, sorted descending by success probability. A
// nil declared list means no filtering. The returned slice is a copy; callers
// may not mutate registry state.
func (r *Registry) ActionsFor(category schemas.ErrorCategory, declared []schemas.RecoveryStrategyKind) []schemas.RecoveryAction {
	r.mu.RLock()
	candidates := r.actions[category]
	r.mu.RUnlock()

	var allowed map[schemas.RecoveryStrategyKind]bool
	if declared != nil {
		allowed = make(map[schemas.RecoveryStrategyKind]bool, len(declared))
		for _, k := range declared {
			allowed[k] = true
		}
	}

	out := make([]schemas.RecoveryAction, 0, len(candidates))
	for _, a := range candidates {
		if allowed == nil || allowed[a.Kind] {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SuccessProbability > out[j].SuccessProbability
	})
	return out
}

// Categories lists the categories with at least one registered action, in
// stable lexical order.
func (r *Registry) Categories() []schemas.ErrorCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.ErrorCategory, 0, len(r.actions))
	for c := range r.actions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
