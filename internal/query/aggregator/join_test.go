package aggregator

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestHashJoin_InnerSemantics(t *testing.T) {
	employees := []types.Row{
		{"employee_id": int64(7), "name": "Ana"},
		{"employee_id": int64(8), "name": "Budi"},
	}
	transactions := []types.Row{
		{"transaction_id": "t1", "employee_id": int32(7), "total_amount": 4.5},
		{"transaction_id": "t2", "employee_id": int64(9), "total_amount": 3.0},
		{"transaction_id": "t3", "employee_id": int64(7), "total_amount": 6.0},
		{"transaction_id": "t4", "total_amount": 1.0},
	}

	rows, stats := HashJoin(employees, transactions, JoinOptions{Key: "employee_id", LeftStore: "mongo", RightStore: "cassandra"})
	if len(rows) != 2 {
		t.Fatalf("expected 2 joined rows, got %d: %v", len(rows), rows)
	}
	if stats.BuildLeft {
		t.Error("index should be built from the larger right side")
	}
	if stats.Matched != 2 || stats.LeftRows != 2 || stats.RightRows != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	for _, r := range rows {
		if r["name"] != "Ana" {
			t.Errorf("unexpected match %v", r)
		}
		if r["employee_id"] != int64(7) {
			t.Errorf("key should keep the left value, got %#v", r["employee_id"])
		}
	}
	if rows[0]["transaction_id"] != "t1" || rows[1]["transaction_id"] != "t3" {
		t.Errorf("matches should follow the build side's order: %v", rows)
	}
}

func TestHashJoin_ConflictingFields(t *testing.T) {
	left := []types.Row{{"id": int64(1), "name": "Ana", "role": "barista"}}
	right := []types.Row{{"id": int64(1), "name": "Ana P.", "role": "barista"}}

	rows, _ := HashJoin(left, right, JoinOptions{Key: "id", LeftStore: "mongo", RightStore: "cassandra"})
	want := types.Row{"id": int64(1), "name": "Ana", "role": "barista", "cassandra.name": "Ana P."}
	if len(rows) != 1 || !reflect.DeepEqual(rows[0], want) {
		t.Errorf("got %v, want %v", rows, want)
	}
}

func TestHashJoin_EmptySide(t *testing.T) {
	rows, _ := HashJoin(nil, []types.Row{{"id": 1}}, JoinOptions{Key: "id"})
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil result, got %#v", rows)
	}
}

func genRows(key string) gopter.Gen {
	return gen.SliceOf(gen.Int64Range(0, 20)).Map(func(keys []int64) []types.Row {
		rows := make([]types.Row, len(keys))
		for i, k := range keys {
			rows[i] = types.Row{key: k, "pos": int64(i)}
		}
		return rows
	})
}

func TestProperty_HashJoin(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every output key appears on both sides", prop.ForAll(
		func(left, right []types.Row) bool {
			leftKeys, rightKeys := map[any]bool{}, map[any]bool{}
			for _, r := range left {
				leftKeys[r["k"]] = true
			}
			for _, r := range right {
				rightKeys[r["k"]] = true
			}
			out, _ := HashJoin(left, right, JoinOptions{Key: "k", RightStore: "r"})
			for _, r := range out {
				if !leftKeys[r["k"]] || !rightKeys[r["k"]] {
					return false
				}
			}
			return true
		},
		genRows("k"), genRows("k"),
	))

	properties.Property("output size is the sum of per-key products", prop.ForAll(
		func(left, right []types.Row) bool {
			lc, rc := map[any]int{}, map[any]int{}
			for _, r := range left {
				lc[r["k"]]++
			}
			for _, r := range right {
				rc[r["k"]]++
			}
			want := 0
			for k, n := range lc {
				want += n * rc[k]
			}
			out, _ := HashJoin(left, right, JoinOptions{Key: "k", RightStore: "r"})
			return len(out) == want
		},
		genRows("k"), genRows("k"),
	))

	properties.Property("self-join on a unique key reproduces every row once", prop.ForAll(
		func(n int) bool {
			rows := make([]types.Row, n)
			for i := range rows {
				rows[i] = types.Row{"id": int64(i), "v": int64(i * 3)}
			}
			out, _ := HashJoin(rows, rows, JoinOptions{Key: "id", RightStore: "self"})
			if len(out) != n {
				return false
			}
			seen := make(map[int64]bool, n)
			for _, r := range out {
				id := r["id"].(int64)
				if seen[id] || !reflect.DeepEqual(r, rows[id]) {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
