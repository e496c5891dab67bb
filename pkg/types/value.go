package types

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueType is the logical type of a field's values, independent of store.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeInt      ValueType = "int"
	TypeFloat    ValueType = "float"
	TypeBool     ValueType = "bool"
	TypeTime     ValueType = "time"
	TypeDate     ValueType = "date"
	TypeUUID     ValueType = "uuid"
	TypeObjectID ValueType = "objectid"
	TypeList     ValueType = "list"
	TypeMap      ValueType = "map"
	TypeUnknown  ValueType = "unknown"
)

// Row is a single result row keyed by field name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	cp := make(Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// IsNumeric reports whether t is an integer or floating point type.
func (t ValueType) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// Compatible reports whether values of types a and b can be compared for
// equality. Numeric types are mutually compatible, time and date are
// compatible, and unknown is compatible with anything.
func Compatible(a, b ValueType) bool {
	switch {
	case a == b:
		return true
	case a == TypeUnknown || b == TypeUnknown:
		return true
	case a.IsNumeric() && b.IsNumeric():
		return true
	case (a == TypeTime || a == TypeDate) && (b == TypeTime || b == TypeDate):
		return true
	case (a == TypeString && b == TypeObjectID) || (a == TypeObjectID && b == TypeString):
		return true
	}
	return false
}

// InferValueType maps a Go value, as returned by a store driver or decoded
// from JSON, to a ValueType.
func InferValueType(v any) ValueType {
	switch x := v.(type) {
	case nil:
		return TypeUnknown
	case string:
		return TypeString
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInt
	case float32:
		return TypeFloat
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1<<53 {
			// JSON decodes every number as float64.
			return TypeInt
		}
		return TypeFloat
	case time.Time:
		return TypeTime
	case uuid.UUID:
		return TypeUUID
	case []any:
		return TypeList
	case map[string]any:
		return TypeMap
	case fmt.Stringer:
		return TypeString
	}
	return TypeUnknown
}

// CoerceValue converts a filter value to the representation matching vt.
// Values are commonly strings collected from a command line, so every
// scalar type accepts its string form.
func CoerceValue(vt ValueType, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value for %s field", vt)
	}
	switch vt {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
	case TypeTime, TypeDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		if vt == TypeDate {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
		return t, nil
	case TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(strings.TrimSpace(x))
		}
	case TypeObjectID:
		s := strings.TrimSpace(fmt.Sprint(v))
		if b, err := hex.DecodeString(s); err != nil || len(b) != 12 {
			return nil, fmt.Errorf("invalid object id %q", s)
		}
		return strings.ToLower(s), nil
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, vt)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return toInt(float64(x))
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case fmt.Stringer:
		// decimal types
		return strconv.ParseFloat(x.String(), 64)
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	case int64:
		return time.UnixMilli(x).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

// KeyOf returns a canonical string for v suitable as a hash join key.
// Integral numbers share one representation regardless of their Go type,
// so an int32 from one store matches an int64 from another. The second
// result is false for values that can never participate in an equality join.
func KeyOf(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return "s:" + x, true
	case bool:
		return "b:" + strconv.FormatBool(x), true
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano), true
	case uuid.UUID:
		return "u:" + x.String(), true
	case []byte:
		return "x:" + hex.EncodeToString(x), true
	case float32:
		return numericKey(float64(x)), true
	case float64:
		return numericKey(x), true
	case []any, map[string]any:
		return "", false
	}
	if i, err := toInt(v); err == nil {
		return "n:" + strconv.FormatInt(i, 10), true
	}
	if s, ok := v.(fmt.Stringer); ok {
		return "s:" + s.String(), true
	}
	return "v:" + fmt.Sprint(v), true
}

func numericKey(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}
