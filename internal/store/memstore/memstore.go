// Package memstore implements an in-memory store for tests and offline
// demos. Entities keep a hash index per partition key so direct partition
// lookups really are lookups and scans really walk every row.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// Entity describes one physical entity to load into the store.
type Entity struct {
	// Name is the table or collection name
	Name string `json:"name"`

	// PartitionKey lists the partition key components in order
	PartitionKey []string `json:"partition_key"`

	// ClusteringKey lists the clustering key components in order
	ClusteringKey []string `json:"clustering_key"`

	// Indexed lists secondary-indexed fields
	Indexed []string `json:"indexed"`

	// Types declares field types; undeclared types are inferred from rows
	Types map[string]types.ValueType `json:"types"`

	// Rows holds the entity's data
	Rows []types.Row `json:"rows"`
}

// Fixture is the on-disk format of a memstore data file.
type Fixture struct {
	Entities []Entity `json:"entities"`
}

// FailFunc decides whether the n-th Execute call (zero-based) fails.
type FailFunc func(call int, plan *types.QueryPlan) error

type entity struct {
	def    Entity
	fields []types.FieldDescriptor
	index  map[string][]int
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	id   string
	kind types.StoreKind

	mu          sync.RWMutex
	entities    map[string]*entity
	order       []string
	latency     map[types.AccessPath]time.Duration
	failFn      FailFunc
	discoverErr error
	calls       int
	closed      bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New(id string, kind types.StoreKind) *Store {
	return &Store{
		id:       id,
		kind:     kind,
		entities: make(map[string]*entity),
		latency:  make(map[types.AccessPath]time.Duration),
	}
}

// Open creates a store and loads a JSON fixture file into it.
func Open(id string, kind types.StoreKind, fixturePath string) (*Store, error) {
	s := New(id, kind)
	if fixturePath == "" {
		return s, nil
	}
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		return nil, fmt.Errorf("memstore %s: failed to read fixture: %w", id, err)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("memstore %s: failed to parse fixture: %w", id, err)
	}
	for _, e := range fx.Entities {
		if err := s.AddEntity(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ID returns the store identifier.
func (s *Store) ID() string { return s.id }

// Kind returns the store's data model.
func (s *Store) Kind() types.StoreKind { return s.kind }

// AddEntity loads or replaces an entity.
func (s *Store) AddEntity(e Entity) error {
	if e.Name == "" {
		return fmt.Errorf("memstore %s: entity name is required", s.id)
	}
	ent := &entity{def: e, fields: describe(s.id, e)}
	if len(e.PartitionKey) > 0 {
		ent.index = make(map[string][]int, len(e.Rows))
		for i, row := range e.Rows {
			key, ok := compositeKey(row, e.PartitionKey)
			if !ok {
				return fmt.Errorf("memstore %s: row %d of %s lacks partition key %v", s.id, i, e.Name, e.PartitionKey)
			}
			ent.index[key] = append(ent.index[key], i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.Name]; !exists {
		s.order = append(s.order, e.Name)
	}
	s.entities[e.Name] = ent
	return nil
}

// RemoveEntity drops an entity.
func (s *Store) RemoveEntity(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[name]; !ok {
		return
	}
	delete(s.entities, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// SetLatency adds an artificial delay to every execution using path.
func (s *Store) SetLatency(path types.AccessPath, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency[path] = d
}

// FailWith installs a failure hook consulted on every Execute call.
func (s *Store) FailWith(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// SetDiscoverError makes Discover fail with err until cleared with nil.
func (s *Store) SetDiscoverError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoverErr = err
}

// Calls returns the number of Execute calls so far.
func (s *Store) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Discover reports the loaded entities in load order.
func (s *Store) Discover(ctx context.Context) ([]types.EntityShape, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.discoverErr != nil {
		return nil, s.discoverErr
	}
	shapes := make([]types.EntityShape, 0, len(s.order))
	for _, name := range s.order {
		ent := s.entities[name]
		shapes = append(shapes, types.EntityShape{
			StoreID:     s.id,
			Name:        name,
			Fields:      append([]types.FieldDescriptor(nil), ent.fields...),
			RowEstimate: int64(len(ent.def.Rows)),
		})
	}
	return shapes, nil
}

// Execute runs plan against the loaded rows.
func (s *Store) Execute(ctx context.Context, plan *types.QueryPlan) ([]types.Row, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	failFn := s.failFn
	delay := s.latency[plan.AccessPath]
	ent, ok := s.entities[plan.Entity]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, apperrors.NewExecutionError(apperrors.CodeConnectionUnavailable, s.id, plan.Entity, fmt.Errorf("store closed"))
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.NewExecutionError(apperrors.CodeExecutionTimeout, s.id, plan.Entity, ctx.Err())
		case <-timer.C:
		}
	}
	if failFn != nil {
		if err := failFn(call, plan); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, apperrors.NewExecutionError(apperrors.CodeStoreExecutionFailed, s.id, plan.Entity,
			fmt.Errorf("no such entity"))
	}

	var candidates []int
	if plan.AccessPath == types.AccessDirectLookup {
		if ent.index == nil {
			return nil, apperrors.NewExecutionError(apperrors.CodeStoreExecutionFailed, s.id, plan.Entity,
				fmt.Errorf("direct lookup on entity without partition key"))
		}
		key, ok := compositeKey(types.Row(plan.Predicate), ent.def.PartitionKey)
		if !ok {
			return nil, apperrors.NewExecutionError(apperrors.CodeStoreExecutionFailed, s.id, plan.Entity,
				fmt.Errorf("predicate does not cover partition key %v", ent.def.PartitionKey))
		}
		candidates = ent.index[key]
	} else {
		candidates = make([]int, len(ent.def.Rows))
		for i := range candidates {
			candidates[i] = i
		}
	}

	rows := make([]types.Row, 0, len(candidates))
	for _, i := range candidates {
		row := ent.def.Rows[i]
		if store.Matches(row, plan.Predicate) {
			rows = append(rows, store.Project(row, plan.Projection))
		}
	}
	return rows, nil
}

// Close marks the store closed; later executions fail as unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func compositeKey(row types.Row, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v, ok := store.Lookup(row, f)
		if !ok {
			return "", false
		}
		if parts[i], ok = types.KeyOf(v); !ok {
			return "", false
		}
	}
	return strings.Join(parts, "\x00"), true
}

// describe derives field descriptors: partition key components first, then
// clustering components, then the remaining fields by name.
func describe(storeID string, e Entity) []types.FieldDescriptor {
	observed := make(map[string]types.ValueType)
	for _, row := range e.Rows {
		for k, v := range row {
			if _, seen := observed[k]; !seen || observed[k] == types.TypeUnknown {
				observed[k] = types.InferValueType(v)
			}
		}
	}
	for k, vt := range e.Types {
		observed[k] = vt
	}
	for _, k := range append(append(append([]string(nil), e.PartitionKey...), e.ClusteringKey...), e.Indexed...) {
		if _, ok := observed[k]; !ok {
			observed[k] = types.TypeUnknown
		}
	}

	kinds := make(map[string]types.FieldKind)
	positions := make(map[string]int)
	for _, k := range e.Indexed {
		kinds[k] = types.KindIndexed
	}
	for i, k := range e.ClusteringKey {
		kinds[k] = types.KindClusteringKey
		positions[k] = i
	}
	for i, k := range e.PartitionKey {
		kinds[k] = types.KindPartitionKey
		positions[k] = i
	}

	names := make([]string, 0, len(observed))
	for k := range observed {
		names = append(names, k)
	}
	rank := func(k string) int {
		switch kinds[k] {
		case types.KindPartitionKey:
			return 0
		case types.KindClusteringKey:
			return 1
		}
		return 2
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		if ri < 2 {
			return positions[names[i]] < positions[names[j]]
		}
		return names[i] < names[j]
	})

	fields := make([]types.FieldDescriptor, len(names))
	for i, name := range names {
		kind := kinds[name]
		if kind == "" {
			kind = types.KindPlain
		}
		fields[i] = types.FieldDescriptor{
			StoreID:     storeID,
			Entity:      e.Name,
			Name:        name,
			Kind:        kind,
			ValueType:   observed[name],
			KeyPosition: positions[name],
		}
	}
	return fields
}
