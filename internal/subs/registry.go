// Package subs holds the subscription registry: the per-event-name opt-in
// gate deciding whether a normalized event is delivered outward. It is
// purely a filter and never affects store state.
package subs

import "sync"

// Registry tracks the set of event names the outward consumer has enabled.
// Membership checks are O(1); Enable and Disable are idempotent.
type Registry struct {
	mu      sync.RWMutex
	enabled map[string]struct{}
}

// New creates an empty registry. Nothing is delivered until enabled.
func New() *Registry {
	return &Registry{enabled: make(map[string]struct{})}
}

// Enable opts the consumer into the given event name.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	r.enabled[name] = struct{}{}
	r.mu.Unlock()
}

// Disable opts the consumer out of the given event name.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	delete(r.enabled, name)
	r.mu.Unlock()
}

// Enabled reports whether the given event name has been opted into.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enabled[name]
	return ok
}

// Names returns the currently enabled event names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.enabled))
	for name := range r.enabled {
		names = append(names, name)
	}
	return names
}
