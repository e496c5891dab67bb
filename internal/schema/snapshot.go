package schema

import (
	"time"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/pkg/types"
)

// Resolution is one place a field name is exposed.
type Resolution struct {
	StoreID string                `json:"store_id"`
	Entity  string                `json:"entity"`
	Field   types.FieldDescriptor `json:"field"`
}

// LogicalEntity groups the physical variants of one logical entity in one
// store. Variants[0] is the primary; denormalized variants follow in
// preference order.
type LogicalEntity struct {
	StoreID  string               `json:"store_id"`
	Name     string               `json:"name"`
	Variants []*types.EntityShape `json:"variants"`
}

// Primary returns the primary physical entity.
func (l *LogicalEntity) Primary() *types.EntityShape {
	return l.Variants[0]
}

// Denormalized returns the variants other than the primary.
func (l *LogicalEntity) Denormalized() []*types.EntityShape {
	return l.Variants[1:]
}

type entityKey struct {
	store  string
	entity string
}

// Snapshot is an immutable view of every store's schema at one point in
// time. Accessors return shared pointers; callers must not modify them.
type Snapshot struct {
	Version uint64
	TakenAt time.Time

	stores   []string
	storeIdx map[string]int
	kinds    map[string]types.StoreKind
	entities map[entityKey]*types.EntityShape
	order    map[string][]string
	logical  map[string][]*LogicalEntity
	byField  map[string][]Resolution
	failed   map[string]*apperrors.Error
}

// Stores returns the store IDs in configuration order.
func (s *Snapshot) Stores() []string {
	return append([]string(nil), s.stores...)
}

// StoreRank returns the configuration position of a store, or -1.
func (s *Snapshot) StoreRank(store string) int {
	if i, ok := s.storeIdx[store]; ok {
		return i
	}
	return -1
}

// StoreKind returns the data model of a store.
func (s *Snapshot) StoreKind(store string) types.StoreKind {
	return s.kinds[store]
}

// Stale reports whether the store's entities were carried over from an
// earlier snapshot because its last discovery failed.
func (s *Snapshot) Stale(store string) bool {
	return s.failed[store] != nil
}

// Unavailable returns the discovery errors of stores whose last refresh
// failed and that have no earlier schema to fall back on, in configuration
// order. Fields of those stores are unknown, not absent.
func (s *Snapshot) Unavailable() []*apperrors.Error {
	var out []*apperrors.Error
	for _, id := range s.stores {
		if err := s.failed[id]; err != nil && len(s.order[id]) == 0 {
			out = append(out, err)
		}
	}
	return out
}

func (s *Snapshot) empty() bool {
	return len(s.entities) == 0
}

// Entity returns a physical entity.
func (s *Snapshot) Entity(store, entity string) (*types.EntityShape, bool) {
	e, ok := s.entities[entityKey{store, entity}]
	return e, ok
}

// Entities returns a store's physical entities in discovery order.
func (s *Snapshot) Entities(store string) []*types.EntityShape {
	names := s.order[store]
	out := make([]*types.EntityShape, len(names))
	for i, n := range names {
		out[i] = s.entities[entityKey{store, n}]
	}
	return out
}

// LogicalEntities returns a store's logical entities in discovery order of
// their primaries.
func (s *Snapshot) LogicalEntities(store string) []*LogicalEntity {
	return append([]*LogicalEntity(nil), s.logical[store]...)
}

// FieldsFor returns the fields of a physical entity.
func (s *Snapshot) FieldsFor(store, entity string) ([]types.FieldDescriptor, error) {
	e, ok := s.Entity(store, entity)
	if !ok {
		return nil, apperrors.NewUnknownEntityError(store, entity)
	}
	return append([]types.FieldDescriptor(nil), e.Fields...), nil
}

// ResolveField lists every store and entity exposing field, ordered by
// store configuration order and then entity discovery order. An unknown
// field yields an empty result.
func (s *Snapshot) ResolveField(field string) []Resolution {
	return append([]Resolution(nil), s.byField[field]...)
}

// Fields returns every distinct field name in the snapshot.
func (s *Snapshot) Fields() []string {
	out := make([]string, 0, len(s.byField))
	for f := range s.byField {
		out = append(out, f)
	}
	return out
}

func (s *Snapshot) index() {
	s.byField = make(map[string][]Resolution)
	for _, store := range s.stores {
		for _, name := range s.order[store] {
			e := s.entities[entityKey{store, name}]
			for _, f := range e.Fields {
				s.byField[f.Name] = append(s.byField[f.Name], Resolution{
					StoreID: store,
					Entity:  name,
					Field:   f,
				})
			}
		}
	}
}
