package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New("mem", types.StoreColumn)
	err := s.AddEntity(Entity{
		Name:          "orders_by_customer",
		PartitionKey:  []string{"customer_id"},
		ClusteringKey: []string{"order_id"},
		Rows: []types.Row{
			{"order_id": "o1", "customer_id": int64(1), "amount": 10.5},
			{"order_id": "o2", "customer_id": int64(1), "amount": 3.0},
			{"order_id": "o3", "customer_id": int64(2), "amount": 7.25},
		},
	})
	if err != nil {
		t.Fatalf("AddEntity failed: %v", err)
	}
	return s
}

func TestDiscover(t *testing.T) {
	s := newTestStore(t)
	shapes, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(shapes) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(shapes))
	}
	shape := shapes[0]
	if got := shape.PartitionKey(); len(got) != 1 || got[0] != "customer_id" {
		t.Errorf("PartitionKey = %v", got)
	}
	if shape.Fields[0].Name != "customer_id" || shape.Fields[1].Name != "order_id" {
		t.Errorf("key fields should come first: %v", shape.FieldNames())
	}
	amount, ok := shape.Field("amount")
	if !ok || amount.Kind != types.KindPlain || amount.ValueType != types.TypeFloat {
		t.Errorf("unexpected amount descriptor: %+v", amount)
	}
	if shape.RowEstimate != 3 {
		t.Errorf("RowEstimate = %d", shape.RowEstimate)
	}
}

func TestExecute_DirectLookupAndScanAgree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := &types.QueryPlan{
		StoreID:      "mem",
		Entity:       "orders_by_customer",
		Predicate:    map[string]any{"customer_id": int64(1)},
		AccessPath:   types.AccessDirectLookup,
		PartitionKey: []string{"customer_id"},
		Projection:   []string{"order_id", "customer_id"},
	}
	direct, err := s.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("direct lookup failed: %v", err)
	}

	scanPlan := *plan
	scanPlan.AccessPath = types.AccessSecondaryScan
	scan, err := s.Execute(ctx, &scanPlan)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(direct) != 2 || len(scan) != 2 {
		t.Fatalf("expected 2 rows from both paths, got %d and %d", len(direct), len(scan))
	}
	if _, ok := direct[0]["amount"]; ok {
		t.Error("projection should drop amount")
	}
}

func TestExecute_PredicateWidthInsensitive(t *testing.T) {
	s := newTestStore(t)
	plan := &types.QueryPlan{
		Entity:     "orders_by_customer",
		Predicate:  map[string]any{"customer_id": 2.0},
		AccessPath: types.AccessDirectLookup,
	}
	rows, err := s.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["order_id"] != "o3" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestExecute_Failures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := &types.QueryPlan{Entity: "orders_by_customer", AccessPath: types.AccessSecondaryScan}

	s.FailWith(func(call int, _ *types.QueryPlan) error {
		if call == 1 {
			return apperrors.NewExecutionError(apperrors.CodeConnectionUnavailable, "mem", "orders_by_customer", errors.New("pool exhausted"))
		}
		return nil
	})

	if _, err := s.Execute(ctx, plan); err != nil {
		t.Fatalf("call 0 should succeed: %v", err)
	}
	_, err := s.Execute(ctx, plan)
	if !apperrors.IsRetryable(err) {
		t.Errorf("call 1 should fail retryably, got %v", err)
	}
	if s.Calls() != 2 {
		t.Errorf("Calls = %d", s.Calls())
	}

	missing := &types.QueryPlan{Entity: "nope", AccessPath: types.AccessSecondaryScan}
	_, err = s.Execute(ctx, missing)
	if e, ok := apperrors.As(err); !ok || e.Entity != "nope" {
		t.Errorf("missing entity error should name it: %v", err)
	}
}

func TestExecute_LatencyHonorsContext(t *testing.T) {
	s := newTestStore(t)
	s.SetLatency(types.AccessSecondaryScan, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Execute(ctx, &types.QueryPlan{Entity: "orders_by_customer", AccessPath: types.AccessSecondaryScan})
	if apperrors.GetCode(err) != apperrors.CodeExecutionTimeout {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestDiscoverError(t *testing.T) {
	s := newTestStore(t)
	s.SetDiscoverError(errors.New("unreachable"))
	if _, err := s.Discover(context.Background()); err == nil {
		t.Error("expected discover error")
	}
	s.SetDiscoverError(nil)
	if _, err := s.Discover(context.Background()); err != nil {
		t.Errorf("cleared error should not persist: %v", err)
	}
}

func TestOpenFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{"entities":[{"name":"employees","partition_key":["employee_id"],
		"rows":[{"employee_id":7,"name":"Ana"},{"employee_id":8,"name":"Budi"}]}]}`
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open("docs", types.StoreDocument, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rows, err := s.Execute(context.Background(), &types.QueryPlan{
		Entity:     "employees",
		Predicate:  map[string]any{"employee_id": int64(7)},
		AccessPath: types.AccessDirectLookup,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Ana" {
		t.Errorf("unexpected rows: %v", rows)
	}

	shapes, _ := s.Discover(context.Background())
	f, _ := shapes[0].Field("employee_id")
	if f.ValueType != types.TypeInt {
		t.Errorf("JSON integers should be inferred as int, got %s", f.ValueType)
	}
}

func TestCafeStores(t *testing.T) {
	docs := NewCafeDocumentStore("mongo", DefaultCafeSize)
	cols := NewCafeColumnStore("cassandra", DefaultCafeSize)

	shapes, err := cols.Discover(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, sh := range shapes {
		names[sh.Name] = true
	}
	for _, want := range []string{"transactions", "transactions_by_employee", "transactions_by_customer", "transactions_by_payment", "transaction_items", "items_by_menu"} {
		if !names[want] {
			t.Errorf("missing entity %s", want)
		}
	}

	docShapes, _ := docs.Discover(context.Background())
	if !docShapes[0].HasField("contact.email") {
		t.Errorf("nested fields should be flattened: %v", docShapes[0].FieldNames())
	}

	// Variants hold the same rows as the primary.
	ctx := context.Background()
	byEmp, _ := cols.Execute(ctx, &types.QueryPlan{
		Entity: "transactions_by_employee", AccessPath: types.AccessDirectLookup,
		Predicate: map[string]any{"employee_id": int64(7)},
	})
	scan, _ := cols.Execute(ctx, &types.QueryPlan{
		Entity: "transactions", AccessPath: types.AccessSecondaryScan,
		Predicate: map[string]any{"employee_id": int64(7)},
	})
	if len(byEmp) == 0 || len(byEmp) != len(scan) {
		t.Errorf("variant lookup returned %d rows, scan %d", len(byEmp), len(scan))
	}
}
