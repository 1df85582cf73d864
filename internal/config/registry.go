package config

import (
	"sort"
	"sync"
)

// ModelRegistry holds the model mappings keyed by source model id. The
// registry is populated at startup and read-mostly afterwards; registration
// is still guarded so tests and future hot-reload can mutate it safely.
type ModelRegistry struct {
	mu       sync.RWMutex
	mappings map[string]ModelMapping
}

// NewModelRegistry creates an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{mappings: make(map[string]ModelMapping)}
}

// Register adds or replaces the mapping for its source model id.
// The last registration wins on duplicates.
func (r *ModelRegistry) Register(m ModelMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.SourceModelID] = m
}

// Resolve looks up the mapping for a source model id.
func (r *ModelRegistry) Resolve(sourceModelID string) (ModelMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[sourceModelID]
	return m, ok
}

// List returns all mappings ordered by source model id.
func (r *ModelRegistry) List() []ModelMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelMapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceModelID < out[j].SourceModelID })
	return out
}
