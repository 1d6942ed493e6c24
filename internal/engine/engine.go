// Package engine defines the input port the orchestration kernel accepts
// violations through. Spawning external analyzers and parsing their
// textual output is explicitly out of scope (spec.md §1); this package
// only carries the adapter interface and a priority-ordered registry of
// whatever adapters the embedding application registers. Grounded on
// internal/providers' Provider interface and Registry (map + RWMutex +
// priority), generalized from LLM backends to static-analysis engines.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// Adapter is the interface every static-analysis engine backend
// implements. The kernel never spawns a process or parses engine output
// itself — that work lives entirely behind this boundary.
type Adapter interface {
	// ID returns the engine identifier (e.g. "eslint", "tsc").
	ID() string

	// Name returns the human-readable engine name.
	Name() string

	// CheckRule invokes one rule of this engine against the target tree
	// and returns the violations it found, normalized to InputViolation.
	CheckRule(ctx context.Context, ruleID string) ([]violation.InputViolation, error)

	// FullScan runs every rule this engine owns in one pass, for the
	// watch controller's analysis cycle (spec.md §4.4).
	FullScan(ctx context.Context) ([]violation.InputViolation, error)

	// IsAvailable reports whether the adapter is configured and usable.
	IsAvailable() bool
}

// Registry is a priority-ordered, concurrency-safe set of Adapters,
// keyed by ID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	priority map[string]int
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		priority: make(map[string]int),
	}
}

// Register adds or replaces an adapter under its own ID. Lower priority
// values are preferred by Ordered, mirroring rule_schedules.priority.
func (r *Registry) Register(a Adapter, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	r.priority[a.ID()] = priority
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("engine: adapter %q not registered", id)
	}
	return a, nil
}

// List returns every registered adapter, in no particular order.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// Available returns adapters that report IsAvailable, ordered by
// ascending priority (lower runs first).
func (r *Registry) Available() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.IsAvailable() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.priority[out[i].ID()] < r.priority[out[j].ID()]
	})
	return out
}

// Ordered returns every registered adapter ordered by ascending priority.
func (r *Registry) Ordered() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.priority[out[i].ID()] < r.priority[out[j].ID()]
	})
	return out
}
