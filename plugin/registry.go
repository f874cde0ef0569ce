// Package plugin provides the registry pipeline stages are resolved
// from: fetchers, parsers, and clean actions register by id and are
// looked up once when a source's pipeline is built.
package plugin

import (
	"fmt"
	"sync"
)

// Registry maps plugin ids to instances of one plugin kind.
// Thread-safe for concurrent registration and lookup.
type Registry[T any] struct {
	mu      sync.RWMutex
	kind    string
	plugins map[string]T
}

// NewRegistry creates an empty registry. kind names the plugin family in
// error messages ("fetcher", "parser", "action").
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		plugins: make(map[string]T),
	}
}

// Register adds a plugin under id.
// Panics if a plugin is already registered with that id.
func (r *Registry[T]) Register(id string, plugin T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[id]; exists {
		panic(fmt.Sprintf("%s already registered for id: %s", r.kind, id))
	}
	r.plugins[id] = plugin
}

// Get retrieves the plugin for id.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, ok := r.plugins[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("no %s registered for id: %s", r.kind, id)
	}
	return plugin, nil
}

// Has checks if a plugin is registered for id.
func (r *Registry[T]) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.plugins[id]
	return exists
}

// IDs returns all registered plugin ids.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	return ids
}
