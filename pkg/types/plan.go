package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Mode selects how the planner chooses physical entities.
type Mode string

const (
	// ModeOptimized prefers a denormalized variant whose partition key is
	// fully satisfied by the filter.
	ModeOptimized Mode = "optimized"

	// ModeNaive always scans the primary entity.
	ModeNaive Mode = "naive"
)

// AccessPath is the physical access strategy of a plan.
type AccessPath string

const (
	AccessDirectLookup  AccessPath = "direct_partition_lookup"
	AccessSecondaryScan AccessPath = "secondary_scan"
)

// QueryPlan is an executable query against one physical entity of one store.
// Plans are produced by the planner and must not be modified afterwards.
type QueryPlan struct {
	// ID is a stable fingerprint of the plan's content
	ID string `json:"id"`

	// StoreID and StoreKind identify the target store
	StoreID   string    `json:"store_id"`
	StoreKind StoreKind `json:"store_kind"`

	// Entity is the physical table or collection chosen
	Entity string `json:"entity"`

	// Logical is the logical entity Entity belongs to
	Logical string `json:"logical"`

	// Predicate maps field names to equality values, coerced to field types
	Predicate map[string]any `json:"predicate"`

	// AccessPath is the physical access strategy
	AccessPath AccessPath `json:"access_path"`

	// PartitionKey is the chosen entity's partition key, in key order
	PartitionKey []string `json:"partition_key,omitempty"`

	// Projection lists the fields returned by the plan
	Projection []string `json:"projection"`

	// Mode is the mode the caller requested
	Mode Mode `json:"mode"`

	// Degraded is set when an optimized plan had to fall back to a scan
	Degraded bool `json:"degraded,omitempty"`

	// Notes explains the planner's choices in human-readable form
	Notes []string `json:"notes,omitempty"`
}

// PredicateFields returns the predicate's field names in sorted order.
func (p *QueryPlan) PredicateFields() []string {
	fields := make([]string, 0, len(p.Predicate))
	for f := range p.Predicate {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Projects reports whether field is part of the plan's projection.
func (p *QueryPlan) Projects(field string) bool {
	for _, f := range p.Projection {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks the direct lookup invariant: every partition key
// component must carry an equality value in the predicate.
func (p *QueryPlan) Validate() error {
	if p.AccessPath != AccessDirectLookup {
		return nil
	}
	if len(p.PartitionKey) == 0 {
		return fmt.Errorf("plan %s: direct lookup on %s.%s without a partition key", p.ID, p.StoreID, p.Entity)
	}
	for _, k := range p.PartitionKey {
		if _, ok := p.Predicate[k]; !ok {
			return fmt.Errorf("plan %s: partition key field %q of %s.%s missing from predicate", p.ID, k, p.StoreID, p.Entity)
		}
	}
	return nil
}

// Fingerprint computes the plan's content hash. Two plans with the same
// target, access path, predicate and projection share a fingerprint.
func (p *QueryPlan) Fingerprint() string {
	var b strings.Builder
	b.WriteString(p.StoreID)
	b.WriteByte('|')
	b.WriteString(p.Entity)
	b.WriteByte('|')
	b.WriteString(string(p.AccessPath))
	b.WriteByte('|')
	b.WriteString(string(p.Mode))
	for _, f := range p.PredicateFields() {
		key, _ := KeyOf(p.Predicate[f])
		fmt.Fprintf(&b, "|%s=%s", f, key)
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(p.Projection, ","))
	return fmt.Sprintf("p-%016x", murmur3.Sum64([]byte(b.String())))
}

// JoinSpec pairs two plans on different stores with the shared key used to
// merge their rows.
type JoinSpec struct {
	ID    string     `json:"id"`
	Left  *QueryPlan `json:"left"`
	Right *QueryPlan `json:"right"`
	Key   string     `json:"key"`
}

// NewJoinSpec builds a join spec and derives its ID from both legs.
func NewJoinSpec(left, right *QueryPlan, key string) *JoinSpec {
	id := fmt.Sprintf("j-%016x", murmur3.Sum64([]byte(left.ID+"|"+right.ID+"|"+key)))
	return &JoinSpec{ID: id, Left: left, Right: right, Key: key}
}

// Validate checks that the shared key is projected by both legs.
func (j *JoinSpec) Validate() error {
	if j.Left == nil || j.Right == nil {
		return fmt.Errorf("join %s: missing leg", j.ID)
	}
	if !j.Left.Projects(j.Key) {
		return fmt.Errorf("join %s: key %q not projected by %s.%s", j.ID, j.Key, j.Left.StoreID, j.Left.Entity)
	}
	if !j.Right.Projects(j.Key) {
		return fmt.Errorf("join %s: key %q not projected by %s.%s", j.ID, j.Key, j.Right.StoreID, j.Right.Entity)
	}
	return nil
}

// PlanSet is the planner's output for one request: one plan for a single
// store request, or two plans and a join spec when the request spans stores.
type PlanSet struct {
	Mode  Mode         `json:"mode"`
	Plans []*QueryPlan `json:"plans"`
	Join  *JoinSpec    `json:"join,omitempty"`
}

// Degraded reports whether any plan fell back to a scan in optimized mode.
func (s *PlanSet) Degraded() bool {
	for _, p := range s.Plans {
		if p.Degraded {
			return true
		}
	}
	return false
}

// EffectiveAccessPath reports the slowest access path among the plans.
// A set is a direct lookup only if every plan is.
func (s *PlanSet) EffectiveAccessPath() AccessPath {
	for _, p := range s.Plans {
		if p.AccessPath != AccessDirectLookup {
			return AccessSecondaryScan
		}
	}
	return AccessDirectLookup
}
