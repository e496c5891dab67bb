// Package store defines the contracts between the engine and the backing
// stores. The engine plans against SchemaSource metadata and executes plans
// through Client; connection pooling and driver retries stay inside the
// store implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/polyquery/polyquery/pkg/types"
)

// Client executes plans against one store.
type Client interface {
	// ID returns the configured store identifier.
	ID() string

	// Kind returns the store's data model.
	Kind() types.StoreKind

	// Execute runs plan and returns the projected rows. Failures should be
	// classified with the execution error codes so callers can tell
	// transient connection problems from broken queries.
	Execute(ctx context.Context, plan *types.QueryPlan) ([]types.Row, error)

	// Close releases the store's connections.
	Close() error
}

// SchemaSource reports the physical entities a store exposes.
type SchemaSource interface {
	// ID returns the configured store identifier.
	ID() string

	// Discover introspects live metadata. Entities are returned in a
	// stable order; Logical may be left empty for the catalog to assign.
	Discover(ctx context.Context) ([]types.EntityShape, error)
}

// Store is implemented by every backing store adapter.
type Store interface {
	Client
	SchemaSource
}

// Registry holds the configured stores in priority order.
type Registry struct {
	order  []string
	stores map[string]Store
}

// NewRegistry creates a registry. The argument order is the configuration
// order used for tie-breaks.
func NewRegistry(stores ...Store) (*Registry, error) {
	r := &Registry{stores: make(map[string]Store, len(stores))}
	for _, s := range stores {
		if s == nil {
			return nil, fmt.Errorf("store: nil store")
		}
		if _, dup := r.stores[s.ID()]; dup {
			return nil, fmt.Errorf("store: duplicate store id %q", s.ID())
		}
		r.order = append(r.order, s.ID())
		r.stores[s.ID()] = s
	}
	return r, nil
}

// Get returns the store with the given ID.
func (r *Registry) Get(id string) (Store, bool) {
	s, ok := r.stores[id]
	return s, ok
}

// Client returns the client of the store with the given ID.
func (r *Registry) Client(id string) (Client, bool) {
	s, ok := r.stores[id]
	return s, ok
}

// IDs returns the store IDs in configuration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Sources returns the stores as schema sources in configuration order.
func (r *Registry) Sources() []SchemaSource {
	out := make([]SchemaSource, len(r.order))
	for i, id := range r.order {
		out[i] = r.stores[id]
	}
	return out
}

// Close closes every store and returns the joined errors.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.order {
		if err := r.stores[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
