package papersources

import (
	"sync"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// Registry holds the provider adapters in registration order. The scheduler
// walks them in that order, so arXiv tasks always run before Scholar tasks
// when registered first. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []domain.SourceType
	adapters map[domain.SourceType]SourceAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.SourceType]SourceAdapter),
	}
}

// Register adds an adapter. Registering the same source type again replaces
// the adapter but keeps its original position.
func (r *Registry) Register(adapter SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := adapter.SourceType()
	if _, exists := r.adapters[st]; !exists {
		r.order = append(r.order, st)
	}
	r.adapters[st] = adapter
}

// Get returns the adapter for a source type, or nil if not registered.
func (r *Registry) Get(sourceType domain.SourceType) SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[sourceType]
}

// All returns every registered adapter in registration order.
func (r *Registry) All() []SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceAdapter, 0, len(r.order))
	for _, st := range r.order {
		out = append(out, r.adapters[st])
	}
	return out
}

// Enabled returns the enabled adapters in registration order.
func (r *Registry) Enabled() []SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SourceAdapter, 0, len(r.order))
	for _, st := range r.order {
		if a := r.adapters[st]; a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
