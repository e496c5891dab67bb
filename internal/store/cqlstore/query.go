package cqlstore

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/polyquery/polyquery/pkg/types"
)

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// needsFiltering reports whether the plan's predicate cannot be served by
// a partition lookup alone.
func needsFiltering(plan *types.QueryPlan) bool {
	if len(plan.Predicate) == 0 {
		return false
	}
	if plan.AccessPath != types.AccessDirectLookup {
		return true
	}
	keys := make(map[string]bool, len(plan.PartitionKey))
	for _, k := range plan.PartitionKey {
		keys[k] = true
	}
	for f := range plan.Predicate {
		if !keys[f] {
			return true
		}
	}
	return false
}

// buildSelect renders the plan as a CQL SELECT with bind markers. Column
// types drive bind value conversion and may be nil.
func buildSelect(keyspace string, plan *types.QueryPlan, columnTypes map[string]string) (string, []any, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(plan.Projection) == 0 {
		b.WriteString("*")
	} else {
		for i, f := range plan.Projection {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(f))
		}
	}
	b.WriteString(" FROM ")
	if keyspace != "" {
		b.WriteString(quote(keyspace))
		b.WriteByte('.')
	}
	b.WriteString(quote(plan.Entity))

	fields := plan.PredicateFields()
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(quote(f))
		b.WriteString(" = ?")

		v, err := bindValue(columnTypes[f], plan.Predicate[f])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", f, err)
		}
		args = append(args, v)
	}
	if needsFiltering(plan) {
		b.WriteString(" ALLOW FILTERING")
	}
	return b.String(), args, nil
}

// bindValue narrows a coerced predicate value to the Go type the driver
// marshals into cqlType.
func bindValue(cqlType string, v any) (any, error) {
	if u, ok := v.(uuid.UUID); ok {
		return gocql.UUID(u), nil
	}
	switch t := strings.ToLower(cqlType); t {
	case "int":
		if i, ok := v.(int64); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, outOfRange(i, t)
			}
			return int32(i), nil
		}
	case "smallint":
		if i, ok := v.(int64); ok {
			if i < math.MinInt16 || i > math.MaxInt16 {
				return nil, outOfRange(i, t)
			}
			return int16(i), nil
		}
	case "tinyint":
		if i, ok := v.(int64); ok {
			if i < math.MinInt8 || i > math.MaxInt8 {
				return nil, outOfRange(i, t)
			}
			return int8(i), nil
		}
	case "float":
		if f, ok := v.(float64); ok {
			return float32(f), nil
		}
	case "double":
		if i, ok := v.(int64); ok {
			return float64(i), nil
		}
	case "varint":
		if i, ok := v.(int64); ok {
			return big.NewInt(i), nil
		}
	case "uuid", "timeuuid":
		if s, ok := v.(string); ok {
			return gocql.ParseUUID(s)
		}
	}
	return v, nil
}

func outOfRange(v int64, cqlType string) error {
	return fmt.Errorf("value %d overflows %s", v, cqlType)
}

// normalize converts driver values into the plain Go values used by rows.
func normalize(v any) any {
	switch x := v.(type) {
	case gocql.UUID:
		return uuid.UUID(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case time.Time:
		return x.UTC()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case fmt.Stringer:
		// decimal columns decode to *inf.Dec
		s := x.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	}
	return v
}

func normalizeRow(m map[string]any) types.Row {
	row := make(types.Row, len(m))
	for k, v := range m {
		row[k] = normalize(v)
	}
	return row
}
