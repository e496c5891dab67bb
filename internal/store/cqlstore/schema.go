package cqlstore

import (
	"sort"
	"strings"

	"github.com/polyquery/polyquery/pkg/types"
)

// selectColumnsCQL reads the column metadata of one keyspace.
const selectColumnsCQL = `SELECT table_name, column_name, kind, position, type FROM system_schema.columns WHERE keyspace_name = ?`

// column is one row of system_schema.columns.
type column struct {
	Table    string
	Name     string
	Kind     string
	Position int
	Type     string
}

// cqlValueType maps a CQL type name to a value type.
func cqlValueType(cqlType string) types.ValueType {
	t := strings.ToLower(strings.TrimSpace(cqlType))
	if strings.HasPrefix(t, "frozen<") {
		t = strings.TrimSuffix(strings.TrimPrefix(t, "frozen<"), ">")
	}
	switch {
	case strings.HasPrefix(t, "list<"), strings.HasPrefix(t, "set<"), strings.HasPrefix(t, "tuple<"):
		return types.TypeList
	case strings.HasPrefix(t, "map<"):
		return types.TypeMap
	}
	switch t {
	case "text", "varchar", "ascii", "inet":
		return types.TypeString
	case "int", "bigint", "smallint", "tinyint", "varint", "counter":
		return types.TypeInt
	case "decimal", "double", "float":
		return types.TypeFloat
	case "boolean":
		return types.TypeBool
	case "timestamp":
		return types.TypeTime
	case "date":
		return types.TypeDate
	case "uuid", "timeuuid":
		return types.TypeUUID
	}
	return types.TypeUnknown
}

func fieldKind(kind string) types.FieldKind {
	switch kind {
	case "partition_key":
		return types.KindPartitionKey
	case "clustering":
		return types.KindClusteringKey
	}
	return types.KindPlain
}

func kindRank(k types.FieldKind) int {
	switch k {
	case types.KindPartitionKey:
		return 0
	case types.KindClusteringKey:
		return 1
	}
	return 2
}

// shapesFromColumns groups column metadata into entity shapes. Tables are
// sorted by name; within a table partition key components come first in
// key order, then clustering columns, then the rest by name.
func shapesFromColumns(cols []column) []types.EntityShape {
	byTable := make(map[string][]types.FieldDescriptor)
	for _, c := range cols {
		f := types.FieldDescriptor{
			Entity:    c.Table,
			Name:      c.Name,
			Kind:      fieldKind(c.Kind),
			ValueType: cqlValueType(c.Type),
		}
		if f.Kind != types.KindPlain && c.Position >= 0 {
			f.KeyPosition = c.Position
		}
		byTable[c.Table] = append(byTable[c.Table], f)
	}

	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	shapes := make([]types.EntityShape, 0, len(tables))
	for _, t := range tables {
		fields := byTable[t]
		sort.SliceStable(fields, func(i, j int) bool {
			a, b := fields[i], fields[j]
			if kindRank(a.Kind) != kindRank(b.Kind) {
				return kindRank(a.Kind) < kindRank(b.Kind)
			}
			if a.Kind != types.KindPlain && a.KeyPosition != b.KeyPosition {
				return a.KeyPosition < b.KeyPosition
			}
			return a.Name < b.Name
		})
		shapes = append(shapes, types.EntityShape{Name: t, Fields: fields})
	}
	return shapes
}
