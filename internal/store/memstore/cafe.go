package memstore

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// CafeSize controls the size of the generated cafe dataset.
type CafeSize struct {
	Employees    int
	Customers    int
	MenuItems    int
	Transactions int
}

// DefaultCafeSize is large enough for scans to be measurably slower than
// lookups without making test setup slow.
var DefaultCafeSize = CafeSize{Employees: 20, Customers: 100, MenuItems: 24, Transactions: 2000}

var (
	cafeRoles      = []string{"barista", "cashier", "manager", "baker"}
	cafeCategories = []string{"coffee", "tea", "pastry", "sandwich"}
	cafePayments   = []string{"cash", "credit_card", "debit_card", "mobile"}
	cafeEpoch      = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)
)

// NewCafeDocumentStore returns a document store holding employees and
// menu_items, keyed by unique employee_id and menu_item_id.
func NewCafeDocumentStore(id string, size CafeSize) *Store {
	s := New(id, types.StoreDocument)

	employees := make([]types.Row, size.Employees)
	for i := range employees {
		eid := int64(i + 1)
		employees[i] = types.Row{
			"_id":         fmt.Sprintf("%024x", eid),
			"employee_id": eid,
			"name":        fmt.Sprintf("Employee %d", eid),
			"role":        cafeRoles[i%len(cafeRoles)],
			"hire_date":   cafeEpoch.AddDate(0, -i, 0),
			"contact": map[string]any{
				"email": fmt.Sprintf("employee%d@cafe.example", eid),
				"phone": fmt.Sprintf("555-%04d", eid),
			},
		}
	}
	mustAdd(s, Entity{
		Name:         "employees",
		PartitionKey: []string{"employee_id"},
		Indexed:      []string{"_id"},
		Types:        map[string]types.ValueType{"_id": types.TypeObjectID},
		Rows:         flattenAll(employees),
	})

	items := make([]types.Row, size.MenuItems)
	for i := range items {
		mid := int64(i + 1)
		items[i] = types.Row{
			"_id":          fmt.Sprintf("%024x", 1000+mid),
			"menu_item_id": mid,
			"name":         fmt.Sprintf("Item %d", mid),
			"category":     cafeCategories[i%len(cafeCategories)],
			"price":        2.5 + float64(i%8)*0.75,
		}
	}
	mustAdd(s, Entity{
		Name:         "menu_items",
		PartitionKey: []string{"menu_item_id"},
		Indexed:      []string{"_id"},
		Types:        map[string]types.ValueType{"_id": types.TypeObjectID, "price": types.TypeFloat},
		Rows:         items,
	})
	return s
}

// NewCafeColumnStore returns a column store holding the transactions table
// and its denormalized variants keyed by employee, customer and payment
// method, plus transaction_items and items_by_menu.
func NewCafeColumnStore(id string, size CafeSize) *Store {
	s := New(id, types.StoreColumn)
	rng := rand.New(rand.NewSource(42))

	txns := make([]types.Row, size.Transactions)
	var lines []types.Row
	for i := range txns {
		tid := fmt.Sprintf("t-%06d", i+1)
		ts := cafeEpoch.Add(time.Duration(i) * 37 * time.Minute)
		nItems := 1 + rng.Intn(3)
		total := 0.0
		for j := 0; j < nItems; j++ {
			mid := int64(1 + rng.Intn(size.MenuItems))
			qty := int64(1 + rng.Intn(2))
			price := 2.5 + float64((mid-1)%8)*0.75
			total += price * float64(qty)
			lines = append(lines, types.Row{
				"transaction_id": tid,
				"menu_item_id":   mid,
				"quantity":       qty,
				"unit_price":     price,
				"timestamp":      ts,
			})
		}
		txns[i] = types.Row{
			"transaction_id": tid,
			"timestamp":      ts,
			"customer_id":    int64(1 + rng.Intn(size.Customers)),
			"employee_id":    int64(1 + rng.Intn(size.Employees)),
			"total_amount":   math.Round(total*100) / 100,
			"payment_method": cafePayments[rng.Intn(len(cafePayments))],
		}
	}

	txnTypes := map[string]types.ValueType{"total_amount": types.TypeFloat}
	mustAdd(s, Entity{Name: "transactions", PartitionKey: []string{"transaction_id"}, Types: txnTypes, Rows: txns})
	for _, key := range []string{"customer_id", "employee_id", "payment_method"} {
		mustAdd(s, Entity{
			Name:          "transactions_by_" + trimID(key),
			PartitionKey:  []string{key},
			ClusteringKey: []string{"timestamp", "transaction_id"},
			Types:         txnTypes,
			Rows:          txns,
		})
	}

	lineTypes := map[string]types.ValueType{"unit_price": types.TypeFloat}
	mustAdd(s, Entity{
		Name:          "transaction_items",
		PartitionKey:  []string{"transaction_id"},
		ClusteringKey: []string{"menu_item_id"},
		Types:         lineTypes,
		Rows:          lines,
	})
	mustAdd(s, Entity{
		Name:          "items_by_menu",
		PartitionKey:  []string{"menu_item_id"},
		ClusteringKey: []string{"timestamp", "transaction_id"},
		Types:         lineTypes,
		Rows:          lines,
	})
	return s
}

func trimID(field string) string {
	switch field {
	case "customer_id":
		return "customer"
	case "employee_id":
		return "employee"
	case "payment_method":
		return "payment"
	}
	return field
}

func flattenAll(rows []types.Row) []types.Row {
	out := make([]types.Row, len(rows))
	for i, r := range rows {
		out[i] = store.Flatten(r, 2)
	}
	return out
}

func mustAdd(s *Store, e Entity) {
	if err := s.AddEntity(e); err != nil {
		panic(err)
	}
}
