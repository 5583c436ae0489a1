package payment

import (
	"strings"
	"sync"
)

// Registry maps processor names to adapters. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ProcessorAdapter
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ProcessorAdapter)}
}

func (r *Registry) Register(adapter ProcessorAdapter) {
	if adapter == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(adapter.Name()))
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.adapters) == 0 {
		r.fallback = name
	}
	r.adapters[name] = adapter
}

// Resolve returns the named adapter, or the first registered adapter when
// name is empty.
func (r *Registry) Resolve(name string) (ProcessorAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.fallback
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrUnknownProcessor
	}
	return adapter, nil
}
