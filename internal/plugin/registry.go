package plugin

import (
	"fmt"
	"sync"
)

// Registry holds the known handlers. Registration order is preserved
// and breaks priority ties during matching.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	byName  map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Register adds a handler. Names are unique; re-registering a name is
// an error.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("plugin %q is already registered", name)
	}
	r.byName[name] = p
	r.plugins = append(r.plugins, p)
	return nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Names returns all handler names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// Match scans every matcher across all handlers and returns the one
// with the highest-priority pattern accepting the URL. Ties fall to
// the earlier-registered handler.
func (r *Registry) Match(url string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Plugin
	bestPriority := PriorityNoPlugin
	for _, p := range r.plugins {
		for _, m := range p.Matchers() {
			if m.Priority > bestPriority && m.Pattern.MatchString(url) {
				best = p
				bestPriority = m.Priority
			}
		}
	}
	return best, best != nil
}

// Arguments returns every handler's declared arguments, keyed by
// handler name.
func (r *Registry) Arguments() map[string][]Argument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]Argument)
	for _, p := range r.plugins {
		if args := p.Arguments(); len(args) > 0 {
			out[p.Name()] = args
		}
	}
	return out
}
