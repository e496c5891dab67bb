package mongostore

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/polyquery/polyquery/pkg/types"
)

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	u := uuid.New()

	doc := bson.M{
		"_id":     oid,
		"hired":   primitive.NewDateTimeFromTime(when),
		"age":     int32(31),
		"badge":   primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]},
		"contact": bson.M{"email": "a@cafe.example"},
		"shifts":  bson.A{bson.D{{Key: "day", Value: "mon"}}},
		"salary":  primitive.NewDecimal128(0, 4200),
	}
	got := normalizeDoc(doc)

	if got["_id"] != oid.Hex() {
		t.Errorf("_id = %v", got["_id"])
	}
	if hired, ok := got["hired"].(time.Time); !ok || !hired.Equal(when) {
		t.Errorf("hired = %v", got["hired"])
	}
	if got["age"] != int64(31) {
		t.Errorf("age = %#v", got["age"])
	}
	if got["badge"] != u {
		t.Errorf("badge = %v", got["badge"])
	}
	if got["salary"] != float64(4200) {
		t.Errorf("salary = %#v", got["salary"])
	}
	contact, ok := got["contact"].(map[string]any)
	if !ok || contact["email"] != "a@cafe.example" {
		t.Errorf("contact = %#v", got["contact"])
	}
	shifts, ok := got["shifts"].([]any)
	if !ok || len(shifts) != 1 || shifts[0].(map[string]any)["day"] != "mon" {
		t.Errorf("shifts = %#v", got["shifts"])
	}
}

func TestSurvey_DominantTypesAndDepth(t *testing.T) {
	s := newFieldSurvey(2)
	s.Add(map[string]any{
		"_id":         "aaaaaaaaaaaaaaaaaaaaaaaa",
		"employee_id": int64(1),
		"_internal":   true,
		"contact":     map[string]any{"email": "x", "geo": map[string]any{"lat": 1.5}},
		"tags":        []any{map[string]any{"label": "new"}},
	})
	s.Add(map[string]any{"employee_id": "2", "nickname": nil})
	s.Add(map[string]any{"employee_id": int64(3), "nickname": nil})

	fields := s.Fields()
	byName := map[string]types.ValueType{}
	var names []string
	for _, f := range fields {
		byName[f.Name] = f.ValueType
		names = append(names, f.Name)
		if f.Kind != types.KindPlain {
			t.Errorf("%s: surveyed fields start plain, got %s", f.Name, f.Kind)
		}
	}

	if names[0] != "_id" {
		t.Errorf("_id should come first: %v", names)
	}
	if _, ok := byName["_internal"]; ok {
		t.Error("underscore fields other than _id are skipped")
	}
	if byName["employee_id"] != types.TypeInt {
		t.Errorf("dominant type of employee_id = %s", byName["employee_id"])
	}
	if byName["contact.email"] != types.TypeString {
		t.Errorf("contact.email = %s", byName["contact.email"])
	}
	if byName["contact.geo"] != types.TypeMap {
		t.Errorf("contact.geo beyond max depth should stay a map, got %s", byName["contact.geo"])
	}
	if byName["tags"] != types.TypeList || byName["tags.label"] != types.TypeString {
		t.Errorf("array survey: tags=%s tags.label=%s", byName["tags"], byName["tags.label"])
	}
	if byName["nickname"] != types.TypeUnknown {
		t.Errorf("all-null field should be unknown, got %s", byName["nickname"])
	}
}

func TestDominant_TieBreak(t *testing.T) {
	got := dominant(map[types.ValueType]int{types.TypeString: 2, types.TypeInt: 2, types.TypeUnknown: 9})
	if got != types.TypeInt {
		t.Errorf("tie should go to the smaller type name, got %s", got)
	}
}

func TestClassify(t *testing.T) {
	fields := []types.FieldDescriptor{
		{Name: "_id", Kind: types.KindPlain},
		{Name: "employee_id", Kind: types.KindPlain},
		{Name: "email", Kind: types.KindPlain},
		{Name: "role", Kind: types.KindPlain},
		{Name: "name", Kind: types.KindPlain},
	}
	classify(fields, []indexInfo{
		{Name: "_id_", Keys: []string{"_id"}, Unique: true},
		{Name: "role_1_name_1", Keys: []string{"role", "name"}},
		{Name: "employee_id_1", Keys: []string{"employee_id"}, Unique: true},
		{Name: "email_1", Keys: []string{"email"}, Unique: true},
		{Name: "missing_1", Keys: []string{"missing"}},
	})

	want := map[string]types.FieldKind{
		"_id":         types.KindIndexed,
		"employee_id": types.KindPartitionKey,
		"email":       types.KindIndexed,
		"role":        types.KindPlain,
		"name":        types.KindPlain,
	}
	for _, f := range fields {
		if f.Kind != want[f.Name] {
			t.Errorf("%s: kind %s, want %s", f.Name, f.Kind, want[f.Name])
		}
	}
}

func TestBuildFilter(t *testing.T) {
	oid := primitive.NewObjectID()
	u := uuid.New()
	plan := &types.QueryPlan{
		Entity: "employees",
		Predicate: map[string]any{
			"employee_id": int64(7),
			"_id":         oid.Hex(),
			"badge":       u,
		},
	}
	filter, err := buildFilter(plan, map[string]types.ValueType{"badge": types.TypeUUID})
	if err != nil {
		t.Fatal(err)
	}
	want := bson.D{
		{Key: "_id", Value: oid},
		{Key: "badge", Value: primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}},
		{Key: "employee_id", Value: int64(7)},
	}
	if !reflect.DeepEqual(filter, want) {
		t.Errorf("filter = %v, want %v", filter, want)
	}

	bad := &types.QueryPlan{Predicate: map[string]any{"_id": "zz"}}
	if _, err := buildFilter(bad, nil); err == nil {
		t.Error("invalid object id should fail")
	}
}

func TestBuildProjection(t *testing.T) {
	if buildProjection(nil) != nil {
		t.Error("empty projection should return whole documents")
	}
	got := buildProjection([]string{"name", "employee_id"})
	want := bson.D{{Key: "employee_id", Value: 1}, {Key: "name", Value: 1}, {Key: "_id", Value: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("projection = %v", got)
	}
	withID := buildProjection([]string{"_id"})
	if len(withID) != 1 {
		t.Errorf("_id requested explicitly should not be suppressed: %v", withID)
	}
}
