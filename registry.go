// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package drawingarea

import (
	"errors"
	"sort"
	"sync"
)

// Factory creates a drawing area for page.
// Implementations should validate params and return descriptive errors.
type Factory func(page Page, params Parameters) (DrawingArea, error)

// RegistryEntry represents a registered drawing area backend.
type RegistryEntry struct {
	// Kind is the unique identifier for this backend.
	Kind Kind

	// Priority determines selection order (higher = preferred).
	// Standard priorities:
	//   - 100: remote layer tree
	//   - 10: local compositing
	Priority int

	// Factory creates drawing areas.
	Factory Factory

	// Available reports if the backend can be used in this process.
	Available func() bool
}

// globalRegistry is the default registry.
var globalRegistry = &Registry{}

// Registry manages registered drawing area backends.
//
// Backends register themselves from init, so importing a backend package
// makes it selectable:
//
//	func init() {
//	    drawingarea.Register(drawingarea.KindRemoteLayerTree, 100, factory, nil)
//	}
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]*RegistryEntry
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and New.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Kind]*RegistryEntry),
	}
}

// Register adds a backend to the global registry.
//
// If available is nil, the backend is assumed always available.
// Registering a kind that already exists replaces the previous entry.
func Register(kind Kind, priority int, factory Factory, available func() bool) {
	globalRegistry.Register(kind, priority, factory, available)
}

// Unregister removes a backend from the global registry.
func Unregister(kind Kind) {
	globalRegistry.Unregister(kind)
}

// List returns all registered backend kinds sorted by priority (highest first).
func List() []Kind {
	return globalRegistry.List()
}

// Available returns all available backend kinds sorted by priority.
func Available() []Kind {
	return globalRegistry.Available()
}

// New creates a drawing area using the best backend that accepts params.
func New(page Page, params Parameters) (DrawingArea, error) {
	return globalRegistry.New(page, params)
}

// NewByKind creates a drawing area using a specific backend.
func NewByKind(kind Kind, page Page, params Parameters) (DrawingArea, error) {
	return globalRegistry.NewByKind(kind, page, params)
}

// Register adds a backend to this registry.
func (r *Registry) Register(kind Kind, priority int, factory Factory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[Kind]*RegistryEntry)
	}

	if available == nil {
		available = func() bool { return true }
	}

	r.entries[kind] = &RegistryEntry{
		Kind:      kind,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes a backend from this registry.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, kind)
}

// List returns all registered backend kinds sorted by priority.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedKinds(false)
}

// Available returns all available backend kinds sorted by priority.
func (r *Registry) Available() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedKinds(true)
}

// New creates a drawing area using the best available backend. Backends
// whose factory rejects params are skipped; if all do, the errors are joined.
func (r *Registry) New(page Page, params Parameters) (DrawingArea, error) {
	r.mu.RLock()
	available := r.sortedKinds(true)
	r.mu.RUnlock()

	if len(available) == 0 {
		return nil, ErrNoBackendAvailable
	}

	var errs []error
	for _, kind := range available {
		a, err := r.NewByKind(kind, page, params)
		if err == nil {
			return a, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(append([]error{ErrNoBackendAvailable}, errs...)...)
}

// NewByKind creates a drawing area using a specific backend.
func (r *Registry) NewByKind(kind Kind, page Page, params Parameters) (DrawingArea, error) {
	r.mu.RLock()
	entry, ok := r.entries[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, &BackendNotFoundError{Kind: kind}
	}

	if !entry.Available() {
		return nil, &BackendUnavailableError{Kind: kind}
	}

	if params.Loop == nil {
		return nil, ErrNoLoop
	}
	return entry.Factory(page, params)
}

// sortedKinds returns backend kinds sorted by priority (highest first).
// If onlyAvailable is true, filters to available backends only.
// Must be called with lock held.
func (r *Registry) sortedKinds(onlyAvailable bool) []Kind {
	if len(r.entries) == 0 {
		return nil
	}

	entries := make([]*RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].Kind < entries[j].Kind
	})

	kinds := make([]Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}
