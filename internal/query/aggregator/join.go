// Package aggregator merges and orders result rows produced by store plans.
package aggregator

import (
	"reflect"

	"github.com/polyquery/polyquery/pkg/types"
)

// JoinOptions configures a hash join.
type JoinOptions struct {
	// Key is the shared field both sides are matched on
	Key string

	// LeftStore and RightStore name the sides; RightStore prefixes right
	// fields that conflict with left fields
	LeftStore  string
	RightStore string

	// CardinalityHint presizes the index (0 = size of the build side)
	CardinalityHint int
}

// JoinStats describes one join.
type JoinStats struct {
	LeftRows  int
	RightRows int
	Matched   int
	// BuildLeft is true when the index was built from the left side
	BuildLeft bool
}

// HashJoin performs an inner equality join of left and right on opts.Key.
// The index is built once from the larger side and probed with each row of
// the smaller side, so the join runs in O(n+m). Rows whose key is missing
// or not joinable match nothing.
//
// Output rows contain the left row's fields followed by the right row's
// fields. A right field whose name is taken by a different left value is
// kept as "<RightStore>.<field>". Output order follows the smaller side,
// then the larger side's original order.
func HashJoin(left, right []types.Row, opts JoinOptions) ([]types.Row, JoinStats) {
	stats := JoinStats{LeftRows: len(left), RightRows: len(right)}
	if len(left) == 0 || len(right) == 0 {
		return []types.Row{}, stats
	}

	build, probe := left, right
	stats.BuildLeft = true
	if len(right) > len(left) {
		build, probe = right, left
		stats.BuildLeft = false
	}

	size := opts.CardinalityHint
	if size <= 0 {
		size = len(build)
	}
	index := make(map[string][]int, size)
	for i, row := range build {
		if k, ok := keyOf(row, opts.Key); ok {
			index[k] = append(index[k], i)
		}
	}

	out := make([]types.Row, 0, len(probe))
	for _, p := range probe {
		k, ok := keyOf(p, opts.Key)
		if !ok {
			continue
		}
		for _, bi := range index[k] {
			b := build[bi]
			if stats.BuildLeft {
				out = append(out, mergeRows(b, p, opts))
			} else {
				out = append(out, mergeRows(p, b, opts))
			}
		}
	}
	stats.Matched = len(out)
	return out, stats
}

func keyOf(row types.Row, field string) (string, bool) {
	v, ok := row[field]
	if !ok {
		return "", false
	}
	return types.KeyOf(v)
}

func mergeRows(l, r types.Row, opts JoinOptions) types.Row {
	out := make(types.Row, len(l)+len(r))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range r {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		if k == opts.Key || sameValue(existing, v) {
			continue
		}
		out[opts.RightStore+"."+k] = v
	}
	return out
}

func sameValue(a, b any) bool {
	ka, okA := types.KeyOf(a)
	kb, okB := types.KeyOf(b)
	if okA && okB {
		return ka == kb
	}
	return reflect.DeepEqual(a, b)
}
