// Package planner synthesizes executable query plans from filter requests.
//
// The synthesizer routes each filter field to the store that owns it,
// picks a physical entity per store and an access path per entity, and
// pairs plans on two stores with a join spec.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/schema"
	"github.com/polyquery/polyquery/pkg/types"
)

// maxStores is the number of stores a request may span.
const maxStores = 2

// Request is a filter request.
type Request struct {
	// Filters maps field names to equality values
	Filters map[string]any

	// Mode selects optimized or naive planning
	Mode types.Mode

	// Projection restricts the returned fields. Empty means all fields of
	// the chosen entity.
	Projection []string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the synthesizer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = logging.Default(logger).With("component", "planner") }
}

// WithJoinKey sets the preferred shared key for cross-store requests.
func WithJoinKey(key string) Option {
	return func(s *Synthesizer) { s.joinKey = key }
}

// WithFilterStats records which access path served each filter field.
func WithFilterStats(fs *observability.FilterStats) Option {
	return func(s *Synthesizer) { s.stats = fs }
}

// WithMetrics records synthesized plans.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// Synthesizer turns filter requests into plans.
type Synthesizer struct {
	catalog *schema.Catalog
	joinKey string
	stats   *observability.FilterStats
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a synthesizer over catalog.
func New(catalog *schema.Catalog, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		catalog: catalog,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize plans filters in the given mode over all fields of the
// chosen entities.
func (s *Synthesizer) Synthesize(ctx context.Context, filters map[string]any, mode types.Mode) (*types.PlanSet, error) {
	return s.Plan(ctx, Request{Filters: filters, Mode: mode})
}

// Plan plans one request against a single snapshot.
func (s *Synthesizer) Plan(ctx context.Context, req Request) (*types.PlanSet, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	set, err := s.plan(snap, req)
	if err != nil {
		return nil, err
	}
	s.record(set)
	return set, nil
}

// Compare plans the same request in optimized and naive mode against one
// snapshot, so both sides of a benchmark target the same logical entities.
func (s *Synthesizer) Compare(ctx context.Context, filters map[string]any, projection []string) (optimized, naive *types.PlanSet, err error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	optimized, err = s.plan(snap, Request{Filters: filters, Mode: types.ModeOptimized, Projection: projection})
	if err != nil {
		return nil, nil, err
	}
	naive, err = s.plan(snap, Request{Filters: filters, Mode: types.ModeNaive, Projection: projection})
	if err != nil {
		return nil, nil, err
	}
	s.record(optimized)
	s.record(naive)
	return optimized, naive, nil
}

func (s *Synthesizer) record(set *types.PlanSet) {
	for _, p := range set.Plans {
		if s.stats != nil {
			s.stats.RecordPlan(p)
		}
		s.metrics.ObservePlan(p)
		s.logger.Debug("plan synthesized",
			"plan_id", p.ID,
			"store", p.StoreID,
			"entity", p.Entity,
			"access_path", p.AccessPath,
			"mode", p.Mode,
			"degraded", p.Degraded)
	}
}

func (s *Synthesizer) plan(snap *schema.Snapshot, req Request) (*types.PlanSet, error) {
	if len(req.Filters) == 0 {
		return nil, apperrors.NewPlanningError(apperrors.CodeEmptyFilter, "at least one filter field is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = types.ModeOptimized
	}
	if mode != types.ModeOptimized && mode != types.ModeNaive {
		return nil, apperrors.NewPlanningError(apperrors.CodeInvalidFilterValue, fmt.Sprintf("unknown mode %q", mode))
	}

	fields := make([]string, 0, len(req.Filters))
	for f := range req.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	resolutions := make(map[string][]schema.Resolution, len(fields))
	for _, f := range fields {
		res := snap.ResolveField(f)
		if len(res) == 0 {
			if down := snap.Unavailable(); len(down) > 0 {
				return nil, unavailableError(down, f)
			}
			return nil, apperrors.NewUnresolvableFieldError(f)
		}
		resolutions[f] = res
	}

	byStore := assignOwners(snap, fields, resolutions)
	if len(byStore) > maxStores {
		stores := sortedStores(snap, byStore)
		return nil, apperrors.NewPlanningError(apperrors.CodeTooManyStores,
			fmt.Sprintf("filter spans %d stores (%s); at most %d can be joined",
				len(stores), strings.Join(stores, ", "), maxStores)).
			WithDetails(map[string]interface{}{"stores": stores})
	}

	stores := sortedStores(snap, byStore)
	plans := make([]*types.QueryPlan, 0, len(stores))
	entities := make([]*types.EntityShape, 0, len(stores))
	for _, storeID := range stores {
		storeFields := byStore[storeID]
		logical := chooseLogical(snap, storeID, storeFields)
		if logical == nil {
			return nil, apperrors.NewPlanningError(apperrors.CodeNoCoveringEntity,
				fmt.Sprintf("no entity in store %s exposes all of %s", storeID, strings.Join(storeFields, ", "))).
				WithStore(storeID)
		}
		plan, entity, err := buildPlan(snap, logical, storeFields, req.Filters, mode)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
		entities = append(entities, entity)
	}

	if err := applyProjection(plans, entities, req.Projection); err != nil {
		return nil, err
	}

	set := &types.PlanSet{Mode: mode, Plans: plans}
	if len(plans) == 2 {
		key, note, err := s.chooseJoinKey(entities[0], entities[1], fields)
		if err != nil {
			return nil, err
		}
		for i, p := range plans {
			if !p.Projects(key) {
				p.Projection = append(p.Projection, key)
			}
			if note != "" && i == 0 {
				p.Notes = append(p.Notes, note)
			}
		}
		finalize(plans)
		set.Join = types.NewJoinSpec(plans[0], plans[1], key)
		if err := set.Join.Validate(); err != nil {
			return nil, apperrors.NewInternalError("join spec failed validation", err)
		}
		return set, nil
	}
	finalize(plans)
	return set, nil
}

// unavailableError blames the stores whose schema is unknown for a field
// nothing else exposes.
func unavailableError(down []*apperrors.Error, field string) error {
	errs := make([]error, len(down))
	for i, e := range down {
		errs[i] = e.WithField(field)
	}
	return errors.Join(errs...)
}

func finalize(plans []*types.QueryPlan) {
	for _, p := range plans {
		p.ID = p.Fingerprint()
	}
}

// assignOwners routes each field to one store. A field exposed by several
// stores goes to the first store, in configuration order, that has an
// entity containing the field whose whole partition key carries values in
// the filter. The field need not be a key component itself. Without such a
// store it goes to the first store in configuration order.
func assignOwners(snap *schema.Snapshot, fields []string, resolutions map[string][]schema.Resolution) map[string][]string {
	requested := make(map[string]bool, len(fields))
	for _, f := range fields {
		requested[f] = true
	}

	byStore := make(map[string][]string)
	for _, f := range fields {
		res := resolutions[f]
		owner := res[0].StoreID
		for _, r := range res {
			e, ok := snap.Entity(r.StoreID, r.Entity)
			if ok && keySatisfied(e, requested) {
				owner = r.StoreID
				break
			}
		}
		byStore[owner] = append(byStore[owner], f)
	}
	return byStore
}

func sortedStores(snap *schema.Snapshot, byStore map[string][]string) []string {
	out := make([]string, 0, len(byStore))
	for id := range byStore {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return snap.StoreRank(out[i]) < snap.StoreRank(out[j]) })
	return out
}

// keySatisfied reports whether every partition key field of e carries an
// equality value among the requested fields.
func keySatisfied(e *types.EntityShape, requested map[string]bool) bool {
	pk := e.PartitionKey()
	if len(pk) == 0 {
		return false
	}
	for _, k := range pk {
		if !requested[k] {
			return false
		}
	}
	return true
}

func covers(e *types.EntityShape, fields []string) bool {
	for _, f := range fields {
		if !e.HasField(f) {
			return false
		}
	}
	return true
}

// lookupVariant returns the first variant, in preference order, that
// contains every field and whose partition key the fields satisfy.
func lookupVariant(l *schema.LogicalEntity, fields []string) *types.EntityShape {
	requested := make(map[string]bool, len(fields))
	for _, f := range fields {
		requested[f] = true
	}
	for _, v := range l.Variants {
		if covers(v, fields) && keySatisfied(v, requested) {
			return v
		}
	}
	return nil
}

// chooseLogical picks the logical entity of storeID whose primary exposes
// every field. Entities offering a direct lookup variant rank first, then
// entities with more variants, then discovery order. The choice does not
// depend on the mode so both benchmark sides measure the same data.
func chooseLogical(snap *schema.Snapshot, storeID string, fields []string) *schema.LogicalEntity {
	var best *schema.LogicalEntity
	bestLookup := false
	for _, l := range snap.LogicalEntities(storeID) {
		if !covers(l.Primary(), fields) {
			continue
		}
		lookup := lookupVariant(l, fields) != nil
		switch {
		case best == nil:
		case lookup && !bestLookup:
		case lookup == bestLookup && len(l.Variants) > len(best.Variants):
		default:
			continue
		}
		best, bestLookup = l, lookup
	}
	return best
}

func buildPlan(snap *schema.Snapshot, l *schema.LogicalEntity, fields []string, filters map[string]any, mode types.Mode) (*types.QueryPlan, *types.EntityShape, error) {
	primary := l.Primary()
	plan := &types.QueryPlan{
		StoreID:   l.StoreID,
		StoreKind: snap.StoreKind(l.StoreID),
		Logical:   l.Name,
		Mode:      mode,
	}

	var entity *types.EntityShape
	switch mode {
	case types.ModeNaive:
		entity = primary
		plan.AccessPath = types.AccessSecondaryScan
		plan.Notes = append(plan.Notes, fmt.Sprintf("naive mode scans primary entity %s", primary.Name))
	default:
		if v := lookupVariant(l, fields); v != nil {
			entity = v
			plan.AccessPath = types.AccessDirectLookup
			plan.PartitionKey = v.PartitionKey()
			plan.Notes = append(plan.Notes, fmt.Sprintf("partition key (%s) of %s satisfied by filter",
				strings.Join(plan.PartitionKey, ", "), v.Name))
		} else {
			entity = primary
			plan.AccessPath = types.AccessSecondaryScan
			plan.Degraded = true
			plan.Notes = append(plan.Notes, fmt.Sprintf("no variant of %s has a partition key satisfied by {%s}; scanning %s",
				l.Name, strings.Join(fields, ", "), primary.Name))
		}
	}
	plan.Entity = entity.Name
	if plan.AccessPath == types.AccessSecondaryScan {
		plan.PartitionKey = entity.PartitionKey()
		if plan.StoreKind == types.StoreColumn {
			plan.Notes = append(plan.Notes, "scan of a column store needs ALLOW FILTERING and touches every partition")
		}
	}
	if snap.Stale(l.StoreID) {
		plan.Notes = append(plan.Notes, fmt.Sprintf("schema of store %s is stale: last refresh failed", l.StoreID))
	}

	plan.Predicate = make(map[string]any, len(fields))
	for _, f := range fields {
		fd, _ := entity.Field(f)
		v, err := types.CoerceValue(fd.ValueType, filters[f])
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrCategoryPlanning, apperrors.CodeInvalidFilterValue,
				fmt.Sprintf("value %v is not a valid %s", filters[f], fd.ValueType), err).
				WithEntity(l.StoreID, entity.Name).
				WithField(f)
		}
		plan.Predicate[f] = v
	}

	if err := plan.Validate(); err != nil {
		return nil, nil, apperrors.NewInternalError("plan failed validation", err)
	}
	return plan, entity, nil
}

// applyProjection restricts each plan to the requested fields it exposes.
// A requested field exposed by neither entity is unresolvable.
func applyProjection(plans []*types.QueryPlan, entities []*types.EntityShape, projection []string) error {
	if len(projection) == 0 {
		for i, p := range plans {
			p.Projection = entities[i].FieldNames()
		}
		return nil
	}
	for _, f := range projection {
		found := false
		for _, e := range entities {
			if e.HasField(f) {
				found = true
				break
			}
		}
		if !found {
			return apperrors.NewUnresolvableFieldError(f)
		}
	}
	for i, p := range plans {
		p.Projection = p.Projection[:0]
		seen := make(map[string]bool)
		for _, f := range projection {
			if entities[i].HasField(f) && !seen[f] {
				seen[f] = true
				p.Projection = append(p.Projection, f)
			}
		}
	}
	return nil
}

// chooseJoinKey picks the shared key of a cross-store request: the
// configured join key if both entities expose it, else a filter field both
// expose, else the first field of left that right also exposes. _id is
// never a join key since its values are store-local.
func (s *Synthesizer) chooseJoinKey(left, right *types.EntityShape, filterFields []string) (string, string, error) {
	compatible := func(f string) bool {
		if f == "_id" {
			return false
		}
		lf, ok := left.Field(f)
		if !ok {
			return false
		}
		rf, ok := right.Field(f)
		return ok && types.Compatible(lf.ValueType, rf.ValueType)
	}

	var note string
	if s.joinKey != "" {
		if compatible(s.joinKey) {
			return s.joinKey, "", nil
		}
		note = fmt.Sprintf("configured join key %s is not shared by %s.%s and %s.%s",
			s.joinKey, left.StoreID, left.Name, right.StoreID, right.Name)
	}
	for _, f := range filterFields {
		if compatible(f) {
			return f, note, nil
		}
	}
	for _, f := range left.FieldNames() {
		if compatible(f) {
			return f, note, nil
		}
	}
	return "", "", apperrors.NewPlanningError(apperrors.CodeNoSharedKey,
		fmt.Sprintf("%s.%s and %s.%s share no field with compatible types",
			left.StoreID, left.Name, right.StoreID, right.Name)).
		WithDetails(map[string]interface{}{
			"left":  left.StoreID + "." + left.Name,
			"right": right.StoreID + "." + right.Name,
		})
}
