package store

import (
	"testing"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestFlattenAndLookup(t *testing.T) {
	doc := map[string]any{
		"name": "Ana",
		"contact": map[string]any{
			"email": "ana@cafe.example",
			"address": map[string]any{
				"city": "Bandung",
			},
		},
	}

	flat := Flatten(doc, 2)
	if flat["contact.email"] != "ana@cafe.example" {
		t.Errorf("contact.email = %v", flat["contact.email"])
	}
	if _, ok := flat["contact.address"].(map[string]any); !ok {
		t.Errorf("maps below max depth should be kept whole: %v", flat)
	}

	if v, ok := Lookup(types.Row(doc), "contact.address.city"); !ok || v != "Bandung" {
		t.Errorf("nested lookup = %v, %v", v, ok)
	}
	if _, ok := Lookup(types.Row(doc), "contact.fax"); ok {
		t.Error("missing nested field should not resolve")
	}
}

func TestMatches(t *testing.T) {
	row := types.Row{"employee_id": int32(7), "payment_method": "cash"}

	tests := []struct {
		pred map[string]any
		want bool
	}{
		{map[string]any{"employee_id": int64(7)}, true},
		{map[string]any{"employee_id": 7.0, "payment_method": "cash"}, true},
		{map[string]any{"employee_id": "7"}, false},
		{map[string]any{"customer_id": int64(1)}, false},
		{nil, true},
	}
	for _, tt := range tests {
		if got := Matches(row, tt.pred); got != tt.want {
			t.Errorf("Matches(%v) = %v, want %v", tt.pred, got, tt.want)
		}
	}
}

func TestProject(t *testing.T) {
	row := types.Row{"a": 1, "b": 2}
	p := Project(row, []string{"a", "missing"})
	if len(p) != 1 || p["a"] != 1 {
		t.Errorf("Project = %v", p)
	}
	all := Project(row, nil)
	all["a"] = 9
	if row["a"] != 1 {
		t.Error("Project must copy")
	}
}
