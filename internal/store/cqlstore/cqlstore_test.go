package cqlstore

import (
	"math"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestCQLValueType(t *testing.T) {
	tests := []struct {
		cql  string
		want types.ValueType
	}{
		{"text", types.TypeString},
		{"varchar", types.TypeString},
		{"bigint", types.TypeInt},
		{"int", types.TypeInt},
		{"decimal", types.TypeFloat},
		{"double", types.TypeFloat},
		{"boolean", types.TypeBool},
		{"timestamp", types.TypeTime},
		{"date", types.TypeDate},
		{"timeuuid", types.TypeUUID},
		{"list<text>", types.TypeList},
		{"frozen<set<int>>", types.TypeList},
		{"map<text, int>", types.TypeMap},
		{"duration", types.TypeUnknown},
	}
	for _, tt := range tests {
		if got := cqlValueType(tt.cql); got != tt.want {
			t.Errorf("cqlValueType(%q) = %s, want %s", tt.cql, got, tt.want)
		}
	}
}

func TestShapesFromColumns(t *testing.T) {
	cols := []column{
		{Table: "transactions_by_employee", Name: "total_amount", Kind: "regular", Position: -1, Type: "decimal"},
		{Table: "transactions_by_employee", Name: "transaction_id", Kind: "clustering", Position: 1, Type: "text"},
		{Table: "transactions_by_employee", Name: "timestamp", Kind: "clustering", Position: 0, Type: "timestamp"},
		{Table: "transactions_by_employee", Name: "employee_id", Kind: "partition_key", Position: 0, Type: "int"},
		{Table: "transactions", Name: "transaction_id", Kind: "partition_key", Position: 0, Type: "text"},
		{Table: "transactions", Name: "customer_id", Kind: "regular", Position: -1, Type: "int"},
	}
	shapes := shapesFromColumns(cols)
	if len(shapes) != 2 || shapes[0].Name != "transactions" || shapes[1].Name != "transactions_by_employee" {
		t.Fatalf("unexpected shapes: %+v", shapes)
	}

	byEmp := shapes[1]
	want := []string{"employee_id", "timestamp", "transaction_id", "total_amount"}
	if got := byEmp.FieldNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("field order = %v, want %v", got, want)
	}
	if pk := byEmp.PartitionKey(); !reflect.DeepEqual(pk, []string{"employee_id"}) {
		t.Errorf("PartitionKey = %v", pk)
	}
	ts, _ := byEmp.Field("timestamp")
	if ts.Kind != types.KindClusteringKey || ts.ValueType != types.TypeTime {
		t.Errorf("timestamp = %+v", ts)
	}
	total, _ := byEmp.Field("total_amount")
	if total.Kind != types.KindPlain || total.KeyPosition != 0 {
		t.Errorf("regular column = %+v", total)
	}
}

func TestBuildSelect(t *testing.T) {
	lookup := &types.QueryPlan{
		Entity:       "transactions_by_employee",
		Predicate:    map[string]any{"employee_id": int64(7)},
		AccessPath:   types.AccessDirectLookup,
		PartitionKey: []string{"employee_id"},
		Projection:   []string{"transaction_id", "total_amount"},
	}
	stmt, args, err := buildSelect("cafe", lookup, map[string]string{"employee_id": "int"})
	if err != nil {
		t.Fatal(err)
	}
	wantStmt := `SELECT "transaction_id", "total_amount" FROM "cafe"."transactions_by_employee" WHERE "employee_id" = ?`
	if stmt != wantStmt {
		t.Errorf("stmt = %s", stmt)
	}
	if len(args) != 1 || args[0] != int32(7) {
		t.Errorf("args = %#v", args)
	}

	scan := &types.QueryPlan{
		Entity:     "transactions",
		Predicate:  map[string]any{"employee_id": int64(7), "payment_method": "cash"},
		AccessPath: types.AccessSecondaryScan,
	}
	stmt, args, _ = buildSelect("cafe", scan, nil)
	wantStmt = `SELECT * FROM "cafe"."transactions" WHERE "employee_id" = ? AND "payment_method" = ? ALLOW FILTERING`
	if stmt != wantStmt {
		t.Errorf("stmt = %s", stmt)
	}
	if !reflect.DeepEqual(args, []any{int64(7), "cash"}) {
		t.Errorf("args = %#v", args)
	}
}

func TestNeedsFiltering(t *testing.T) {
	extra := &types.QueryPlan{
		Predicate:    map[string]any{"employee_id": 7, "payment_method": "cash"},
		AccessPath:   types.AccessDirectLookup,
		PartitionKey: []string{"employee_id"},
	}
	if !needsFiltering(extra) {
		t.Error("non-key predicate on a lookup needs ALLOW FILTERING")
	}
	if needsFiltering(&types.QueryPlan{AccessPath: types.AccessSecondaryScan}) {
		t.Error("unfiltered scan does not need ALLOW FILTERING")
	}
}

func TestBindValue(t *testing.T) {
	u := uuid.New()
	tests := []struct {
		cql  string
		in   any
		want any
	}{
		{"int", int64(3), int32(3)},
		{"smallint", int64(3), int16(3)},
		{"float", 1.5, float32(1.5)},
		{"double", int64(2), float64(2)},
		{"uuid", u, gocql.UUID(u)},
		{"text", "x", "x"},
		{"", int64(9), int64(9)},
	}
	for _, tt := range tests {
		got, err := bindValue(tt.cql, tt.in)
		if err != nil || got != tt.want {
			t.Errorf("bindValue(%s, %v) = %#v, %v", tt.cql, tt.in, got, err)
		}
	}
	v, _ := bindValue("varint", int64(5))
	if b, ok := v.(*big.Int); !ok || b.Int64() != 5 {
		t.Errorf("varint = %#v", v)
	}
}

func TestBindValue_Overflow(t *testing.T) {
	tests := []struct {
		cql string
		in  int64
	}{
		{"int", math.MaxInt32 + 1},
		{"int", math.MinInt32 - 1},
		{"smallint", 40000},
		{"tinyint", -129},
		{"INT", 1 << 40},
	}
	for _, tt := range tests {
		if got, err := bindValue(tt.cql, tt.in); err == nil {
			t.Errorf("bindValue(%s, %d) = %#v, want overflow error", tt.cql, tt.in, got)
		}
	}

	if v, err := bindValue("tinyint", int64(-128)); err != nil || v != int8(-128) {
		t.Errorf("tinyint lower bound = %#v, %v", v, err)
	}

	plan := &types.QueryPlan{
		Entity:     "transactions_by_employee",
		Predicate:  map[string]any{"employee_id": int64(math.MaxInt32) + 1},
		AccessPath: types.AccessDirectLookup,
	}
	if _, _, err := buildSelect("cafe", plan, map[string]string{"employee_id": "int"}); err == nil || !strings.Contains(err.Error(), "employee_id") {
		t.Errorf("overflowing predicate should fail naming the column: %v", err)
	}
}

func TestNormalizeRow(t *testing.T) {
	u := gocql.TimeUUID()
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	row := normalizeRow(map[string]any{
		"transaction_id": u,
		"employee_id":    7,
		"quantity":       int16(2),
		"unit_price":     float32(2.5),
		"timestamp":      when,
		"tags":           []any{int32(1)},
		"big":            big.NewInt(12),
	})
	if row["transaction_id"] != uuid.UUID(u) {
		t.Errorf("uuid = %#v", row["transaction_id"])
	}
	if row["employee_id"] != int64(7) || row["quantity"] != int64(2) || row["big"] != int64(12) {
		t.Errorf("integers not widened: %v", row)
	}
	if row["unit_price"] != float64(2.5) {
		t.Errorf("unit_price = %#v", row["unit_price"])
	}
	if tags := row["tags"].([]any); tags[0] != int64(1) {
		t.Errorf("tags = %#v", tags)
	}
}
