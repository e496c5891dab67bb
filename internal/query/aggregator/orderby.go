package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/polyquery/polyquery/pkg/types"
)

// OrderBy is one sort key.
type OrderBy struct {
	Field string
	Desc  bool
}

// RowSorter sorts result rows by one or more fields.
type RowSorter struct {
	clauses []OrderBy
}

// NewRowSorter creates a sorter for the given clauses.
func NewRowSorter(clauses []OrderBy) *RowSorter {
	return &RowSorter{clauses: clauses}
}

// Sort sorts rows in place. Rows missing a field sort first for that field.
func (s *RowSorter) Sort(rows []types.Row) {
	if len(s.clauses) == 0 || len(rows) <= 1 {
		return
	}

	// Stable sort preserves join order for equal elements
	sort.SliceStable(rows, func(i, j int) bool {
		for _, clause := range s.clauses {
			cmp := compareValues(rows[i][clause.Field], rows[j][clause.Field])
			if cmp == 0 {
				continue
			}
			if clause.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// SortAndLimit sorts rows and applies limit and offset. A limit <= 0 keeps
// every row.
func (s *RowSorter) SortAndLimit(rows []types.Row, limit, offset int) []types.Row {
	s.Sort(rows)

	if offset > 0 {
		if offset >= len(rows) {
			return []types.Row{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	// Numeric comparison
	fa, aOk := toFloat(a)
	fb, bOk := toFloat(b)
	if aOk && bOk {
		if fa < fb {
			return -1
		} else if fa > fb {
			return 1
		}
		return 0
	}

	ta, aTime := a.(time.Time)
	tb, bTime := b.(time.Time)
	if aTime && bTime {
		return ta.Compare(tb)
	}

	// String comparison
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if !aStr || !bStr {
		// Fallback: compare as strings
		sa = fmt.Sprintf("%v", a)
		sb = fmt.Sprintf("%v", b)
	}
	if sa < sb {
		return -1
	} else if sa > sb {
		return 1
	}
	return 0
}
