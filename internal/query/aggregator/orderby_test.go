package aggregator

import (
	"testing"
	"time"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestSort_Basic(t *testing.T) {
	s := NewRowSorter([]OrderBy{{Field: "id"}})
	rows := []types.Row{
		{"id": int64(3), "name": "c"},
		{"id": int64(1), "name": "a"},
		{"id": int32(2), "name": "b"},
	}
	s.Sort(rows)
	for i, expected := range []string{"a", "b", "c"} {
		if rows[i]["name"] != expected {
			t.Fatalf("row %d: expected %s, got %v", i, expected, rows[i]["name"])
		}
	}
}

func TestSort_MultipleClauses(t *testing.T) {
	s := NewRowSorter([]OrderBy{{Field: "role"}, {Field: "hired", Desc: true}})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []types.Row{
		{"role": "barista", "hired": base, "name": "old"},
		{"role": "manager", "hired": base, "name": "mgr"},
		{"role": "barista", "hired": base.AddDate(0, 1, 0), "name": "new"},
		{"name": "no role"},
	}
	s.Sort(rows)
	want := []string{"no role", "new", "old", "mgr"}
	for i, w := range want {
		if rows[i]["name"] != w {
			t.Errorf("position %d: got %v, want %s", i, rows[i]["name"], w)
		}
	}
}

func TestSortAndLimit(t *testing.T) {
	s := NewRowSorter([]OrderBy{{Field: "id", Desc: true}})
	rows := make([]types.Row, 1000)
	for i := range rows {
		rows[i] = types.Row{"id": int64(i)}
	}

	result := s.SortAndLimit(rows, 5, 2)
	if len(result) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(result))
	}
	for i, expected := range []int64{997, 996, 995, 994, 993} {
		if result[i]["id"] != expected {
			t.Fatalf("row %d: expected %d, got %v", i, expected, result[i]["id"])
		}
	}

	if got := s.SortAndLimit(rows, 0, 2000); len(got) != 0 {
		t.Errorf("offset past the end should return nothing, got %d", len(got))
	}
	if got := s.SortAndLimit(rows[:3], 0, 0); len(got) != 3 {
		t.Errorf("limit 0 should keep every row, got %d", len(got))
	}
}
