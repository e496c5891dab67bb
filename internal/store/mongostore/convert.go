package mongostore

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/polyquery/polyquery/pkg/types"
)

// normalize converts driver values into the plain Go values used by rows:
// ObjectIDs become hex strings, BSON dates become time.Time and nested
// documents become map[string]any.
func normalize(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return int64(x.T)
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(x.String(), 64); err == nil {
			return f
		}
		return x.String()
	case int32:
		return int64(x)
	case primitive.Binary:
		if x.Subtype == bson.TypeBinaryUUID || x.Subtype == bson.TypeBinaryUUIDOld {
			if u, err := uuid.FromBytes(x.Data); err == nil {
				return u
			}
		}
		return x.Data
	case primitive.M:
		return normalizeDoc(x)
	case map[string]any:
		return normalizeDoc(x)
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func normalizeDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalize(v)
	}
	return out
}

// bsonValue converts a coerced predicate value into its BSON form for a
// field of type vt.
func bsonValue(vt types.ValueType, v any) (any, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: x[:]}, nil
	case string:
		if vt == types.TypeObjectID {
			oid, err := primitive.ObjectIDFromHex(x)
			if err != nil {
				return nil, fmt.Errorf("invalid object id %q: %w", x, err)
			}
			return oid, nil
		}
	}
	return v, nil
}

// buildFilter renders the plan's equality predicate as a BSON document with
// fields in sorted order. fieldTypes may be nil.
func buildFilter(plan *types.QueryPlan, fieldTypes map[string]types.ValueType) (bson.D, error) {
	filter := bson.D{}
	for _, f := range plan.PredicateFields() {
		vt := fieldTypes[f]
		if vt == "" && f == "_id" {
			vt = types.TypeObjectID
		}
		v, err := bsonValue(vt, plan.Predicate[f])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		filter = append(filter, bson.E{Key: f, Value: v})
	}
	return filter, nil
}

// buildProjection includes the projected fields and suppresses _id unless
// it was asked for. An empty projection returns whole documents.
func buildProjection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	proj := bson.D{}
	wantID := false
	for _, f := range sorted {
		if f == "_id" {
			wantID = true
		}
		proj = append(proj, bson.E{Key: f, Value: 1})
	}
	if !wantID {
		proj = append(proj, bson.E{Key: "_id", Value: 0})
	}
	return proj
}
