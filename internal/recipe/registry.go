// Package recipe provides a name-keyed registry of FetcherRecipe builders,
// the CLI's answer to the `run <data_registry_id>` subcommand: a
// registry id names a builder function, not a recipe value, so the
// registry can be assembled at startup without eagerly constructing
// every protocol/storage collaborator a recipe might need.
package recipe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// Builder constructs one FetcherRecipe on demand.
type Builder func() (*model.FetcherRecipe, error)

// Registry maps data_registry_id to Builder.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds id -> builder. Registering the same id twice overwrites
// the previous builder, matching the teacher framework's last-registration-
// wins convention for its own component registries.
func (r *Registry) Register(id string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[id] = builder
}

// Build looks up id and invokes its builder.
func (r *Registry) Build(id string) (*model.FetcherRecipe, error) {
	r.mu.RLock()
	builder, ok := r.builders[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("recipe registry: unknown data_registry_id %q: %w", id, ocerrors.ErrInvalidConfiguration)
	}
	built, err := builder()
	if err != nil {
		return nil, fmt.Errorf("recipe registry: build %q: %w", id, err)
	}
	if err := built.Validate(); err != nil {
		return nil, fmt.Errorf("recipe registry: %q: %w", id, err)
	}
	return built, nil
}

// IDs returns every registered data_registry_id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.builders))
	for id := range r.builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
