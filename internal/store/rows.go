package store

import (
	"strings"

	"github.com/polyquery/polyquery/pkg/types"
)

// Lookup resolves a possibly dotted field path in a row. A flattened key
// takes precedence over walking nested maps.
func Lookup(row types.Row, field string) (any, bool) {
	if v, ok := row[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur any = map[string]any(row)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches reports whether row satisfies every equality in predicate.
// Values are compared by join key so numeric widths do not matter.
func Matches(row types.Row, predicate map[string]any) bool {
	for field, want := range predicate {
		got, ok := Lookup(row, field)
		if !ok {
			return false
		}
		gk, ok1 := types.KeyOf(got)
		wk, ok2 := types.KeyOf(want)
		if !ok1 || !ok2 || gk != wk {
			return false
		}
	}
	return true
}

// Project returns a copy of row restricted to fields. An empty field list
// copies the whole row. Fields absent from the row are omitted.
func Project(row types.Row, fields []string) types.Row {
	if len(fields) == 0 {
		return row.Clone()
	}
	out := make(types.Row, len(fields))
	for _, f := range fields {
		if v, ok := Lookup(row, f); ok {
			out[f] = v
		}
	}
	return out
}

// Flatten converts nested maps into dotted keys down to maxDepth levels.
// Maps deeper than maxDepth are kept as values.
func Flatten(doc map[string]any, maxDepth int) types.Row {
	out := make(types.Row, len(doc))
	flattenInto(out, "", doc, 1, maxDepth)
	return out
}

func flattenInto(out types.Row, prefix string, doc map[string]any, depth, maxDepth int) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && depth < maxDepth {
			flattenInto(out, key, nested, depth+1, maxDepth)
			continue
		}
		out[key] = v
	}
}
