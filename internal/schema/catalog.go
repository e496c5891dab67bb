// Package schema discovers and caches the shape of every configured store.
//
// The catalog publishes immutable snapshots through an atomic pointer.
// Readers load one snapshot and use it for the whole operation; refresh
// builds a complete replacement and swaps it in, so nobody observes a
// half-updated schema.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// Overrides adjusts discovered metadata for one store.
type Overrides struct {
	// PartitionKeys replaces the discovered partition key of an entity
	PartitionKeys map[string][]string

	// Variants lists the physical variants of a logical entity in
	// preference order
	Variants map[string][]string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the catalog's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logging.Default(logger).With("component", "schema-catalog") }
}

// WithOverrides sets per-store metadata overrides keyed by store ID.
func WithOverrides(o map[string]Overrides) Option {
	return func(c *Catalog) { c.overrides = o }
}

// WithMetrics records per-store discovery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

// WithKinds declares the data model of each store, keyed by store ID.
func WithKinds(k map[string]types.StoreKind) Option {
	return func(c *Catalog) { c.kinds = k }
}

// Catalog owns the current schema snapshot.
type Catalog struct {
	sources   []store.SchemaSource
	overrides map[string]Overrides
	kinds     map[string]types.StoreKind
	logger    *slog.Logger
	metrics   *observability.Metrics

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
	version   uint64
}

// New creates a catalog over sources in configuration order.
func New(sources []store.SchemaSource, opts ...Option) *Catalog {
	c := &Catalog{
		sources: sources,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the published snapshot, or nil before the first refresh.
func (c *Catalog) Current() *Snapshot {
	return c.current.Load()
}

// Snapshot returns the published snapshot, building it on first use.
// Partial discovery failures during that first build are logged; an error
// is returned only if no store could be discovered. A published snapshot
// without any entity is rebuilt on every call until some store reports one.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil && !snap.empty() {
		return snap, nil
	}
	snap, err := c.Refresh(ctx)
	if err != nil {
		if snap == nil || snap.empty() {
			return nil, err
		}
		c.logger.Warn("schema snapshot built with failures", "error", err)
	}
	return snap, nil
}

// FieldsFor returns the fields of a physical entity from the current snapshot.
func (c *Catalog) FieldsFor(ctx context.Context, storeID, entity string) ([]types.FieldDescriptor, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.FieldsFor(storeID, entity)
}

// ResolveField lists where field is exposed in the current snapshot.
func (c *Catalog) ResolveField(ctx context.Context, field string) ([]Resolution, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ResolveField(field), nil
}

type discovery struct {
	shapes []types.EntityShape
	err    *apperrors.Error
}

// Refresh rediscovers every store concurrently and publishes a new
// snapshot. A store whose discovery fails keeps the entities it had in
// the previous snapshot; the returned error joins one SchemaDiscoveryError
// per failed store. The new snapshot is returned even when err != nil.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	start := time.Now()
	results := make([]discovery, len(c.sources))

	var g errgroup.Group
	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			shapes, err := src.Discover(ctx)
			if err == nil {
				err = validateShapes(src.ID(), shapes)
			}
			if err != nil {
				results[i].err = apperrors.NewSchemaDiscoveryError(src.ID(), err)
				return nil
			}
			results[i].shapes = shapes
			return nil
		})
	}
	_ = g.Wait()

	prev := c.current.Load()
	c.version++
	snap := &Snapshot{
		Version:  c.version,
		TakenAt:  time.Now(),
		storeIdx: make(map[string]int, len(c.sources)),
		kinds:    make(map[string]types.StoreKind, len(c.sources)),
		entities: make(map[entityKey]*types.EntityShape),
		order:    make(map[string][]string, len(c.sources)),
		logical:  make(map[string][]*LogicalEntity, len(c.sources)),
		failed:   make(map[string]*apperrors.Error),
	}

	var errs []error
	for i, src := range c.sources {
		id := src.ID()
		snap.stores = append(snap.stores, id)
		snap.storeIdx[id] = i
		snap.kinds[id] = c.kinds[id]

		res := results[i]
		c.metrics.ObserveRefresh(id, res.err == nil)
		if res.err != nil {
			errs = append(errs, res.err)
			snap.failed[id] = res.err
			c.logger.Warn("schema discovery failed", "store", id, "error", res.err)
			if prev != nil {
				snap.order[id] = append([]string(nil), prev.order[id]...)
				for _, name := range prev.order[id] {
					k := entityKey{id, name}
					snap.entities[k] = prev.entities[k]
				}
				snap.logical[id] = prev.logical[id]
			}
			continue
		}

		shapes := c.prepare(id, res.shapes)
		for _, e := range shapes {
			snap.entities[entityKey{id, e.Name}] = e
			snap.order[id] = append(snap.order[id], e.Name)
		}
		snap.logical[id] = group(id, shapes, c.overrides[id].Variants)
		c.logger.Debug("schema discovered", "store", id, "entities", len(shapes))
	}
	snap.index()

	c.current.Store(snap)
	c.logger.Info("schema refreshed",
		"version", snap.Version,
		"stores", len(c.sources),
		"failed", len(errs),
		"duration", time.Since(start))

	return snap, errors.Join(errs...)
}

func validateShapes(storeID string, shapes []types.EntityShape) error {
	seen := make(map[string]bool, len(shapes))
	for _, e := range shapes {
		if e.Name == "" {
			return fmt.Errorf("store %s returned an entity without a name", storeID)
		}
		if seen[e.Name] {
			return fmt.Errorf("store %s returned entity %q twice", storeID, e.Name)
		}
		seen[e.Name] = true
		for _, f := range e.Fields {
			if f.Name == "" {
				return fmt.Errorf("entity %s.%s has a field without a name", storeID, e.Name)
			}
		}
	}
	return nil
}

// prepare copies discovered shapes, normalizes ownership and applies
// partition key overrides.
func (c *Catalog) prepare(storeID string, shapes []types.EntityShape) []*types.EntityShape {
	keys := c.overrides[storeID].PartitionKeys
	out := make([]*types.EntityShape, len(shapes))
	for i := range shapes {
		e := shapes[i].Clone()
		e.StoreID = storeID
		override, hasOverride := keys[e.Name]
		pos := make(map[string]int, len(override))
		for j, k := range override {
			pos[k] = j
		}
		for j := range e.Fields {
			f := &e.Fields[j]
			f.StoreID = storeID
			f.Entity = e.Name
			if f.ValueType == "" {
				f.ValueType = types.TypeUnknown
			}
			if f.Kind == "" {
				f.Kind = types.KindPlain
			}
			if !hasOverride {
				continue
			}
			if p, ok := pos[f.Name]; ok {
				f.Kind = types.KindPartitionKey
				f.KeyPosition = p
			} else if f.Kind == types.KindPartitionKey {
				f.Kind = types.KindIndexed
				f.KeyPosition = 0
			}
		}
		out[i] = e
	}
	return out
}

// group assigns every physical entity to a logical entity. Configured
// variants win; otherwise "<logical>_by_<field>" is a variant of
// "<logical>" when that entity exists. The primary of a logical entity is
// the physical entity of the same name, or the first configured variant
// when no such entity exists.
func group(storeID string, shapes []*types.EntityShape, variants map[string][]string) []*LogicalEntity {
	byName := make(map[string]*types.EntityShape, len(shapes))
	for _, e := range shapes {
		byName[e.Name] = e
	}

	logicalOf := make(map[string]string, len(shapes))
	rank := make(map[string]int)

	configured := make([]string, 0, len(variants))
	for l := range variants {
		configured = append(configured, l)
	}
	sort.Strings(configured)
	for _, l := range configured {
		for i, v := range variants[l] {
			if _, ok := byName[v]; ok {
				if _, taken := logicalOf[v]; !taken {
					logicalOf[v] = l
					rank[v] = i
				}
			}
		}
		if _, ok := byName[l]; ok {
			logicalOf[l] = l
			rank[l] = -1
		}
	}
	for _, e := range shapes {
		if _, ok := logicalOf[e.Name]; ok {
			continue
		}
		if i := strings.Index(e.Name, "_by_"); i > 0 {
			if _, ok := byName[e.Name[:i]]; ok {
				logicalOf[e.Name] = e.Name[:i]
				rank[e.Name] = len(shapes)
				continue
			}
		}
		logicalOf[e.Name] = e.Name
		rank[e.Name] = -1
	}

	groups := make(map[string]*LogicalEntity)
	var order []string
	for _, e := range shapes {
		l := logicalOf[e.Name]
		g, ok := groups[l]
		if !ok {
			g = &LogicalEntity{StoreID: storeID, Name: l}
			groups[l] = g
			order = append(order, l)
		}
		g.Variants = append(g.Variants, e)
	}

	out := make([]*LogicalEntity, 0, len(order))
	for _, l := range order {
		g := groups[l]
		discovered := make(map[string]int, len(g.Variants))
		for i, v := range g.Variants {
			discovered[v.Name] = i
		}
		sort.SliceStable(g.Variants, func(i, j int) bool {
			a, b := g.Variants[i].Name, g.Variants[j].Name
			if rank[a] != rank[b] {
				return rank[a] < rank[b]
			}
			return discovered[a] < discovered[b]
		})
		for _, v := range g.Variants {
			v.Logical = l
		}
		out = append(out, g)
	}
	return out
}
