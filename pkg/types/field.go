// Package types provides the core value types shared by the schema catalog,
// the planner, the executors and the statistics stage.
package types

import "sort"

// StoreKind identifies the data model of a backing store.
type StoreKind string

const (
	// StoreDocument is a document store surveyed by sampling documents.
	StoreDocument StoreKind = "document"

	// StoreColumn is a partition/clustering-key column store.
	StoreColumn StoreKind = "column"
)

// FieldKind classifies the role a field plays in its physical entity.
type FieldKind string

const (
	KindPartitionKey  FieldKind = "partition_key"
	KindClusteringKey FieldKind = "clustering_key"
	KindIndexed       FieldKind = "indexed"
	KindPlain         FieldKind = "plain"
)

// FieldDescriptor describes one field of one physical entity in one store.
// Descriptors are produced by schema discovery and never mutated afterwards.
type FieldDescriptor struct {
	// StoreID is the configured identifier of the owning store
	StoreID string `json:"store_id"`

	// Entity is the physical table or collection name
	Entity string `json:"entity"`

	// Name is the field name; nested document fields use dotted paths
	Name string `json:"name"`

	// Kind is the field's key role within the entity
	Kind FieldKind `json:"kind"`

	// ValueType is the observed or declared type of the field's values
	ValueType ValueType `json:"value_type"`

	// KeyPosition orders the components of a composite partition or clustering key
	KeyPosition int `json:"key_position,omitempty"`
}

// IsPartitionKey reports whether the field is (part of) the partition key.
func (f FieldDescriptor) IsPartitionKey() bool {
	return f.Kind == KindPartitionKey
}

// EntityShape is the discovered shape of one physical entity.
type EntityShape struct {
	// StoreID is the configured identifier of the owning store
	StoreID string `json:"store_id"`

	// Name is the physical table or collection name
	Name string `json:"name"`

	// Logical is the logical entity this physical entity is a variant of.
	// For a primary entity Logical equals Name.
	Logical string `json:"logical"`

	// Fields lists the entity's fields in discovery order
	Fields []FieldDescriptor `json:"fields"`

	// RowEstimate is an optional size hint reported by the store (0 if unknown)
	RowEstimate int64 `json:"row_estimate,omitempty"`
}

// IsPrimary reports whether the entity is the primary of its logical entity.
func (e *EntityShape) IsPrimary() bool {
	return e.Logical == "" || e.Logical == e.Name
}

// Field returns the descriptor for name, if present.
func (e *EntityShape) Field(name string) (FieldDescriptor, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// HasField reports whether the entity exposes name.
func (e *EntityShape) HasField(name string) bool {
	_, ok := e.Field(name)
	return ok
}

// PartitionKey returns the partition key components ordered by key position.
func (e *EntityShape) PartitionKey() []string {
	var keys []FieldDescriptor
	for _, f := range e.Fields {
		if f.IsPartitionKey() {
			keys = append(keys, f)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].KeyPosition < keys[j].KeyPosition
	})
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name
	}
	return names
}

// FieldNames returns the entity's field names in discovery order.
func (e *EntityShape) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// Clone returns a deep copy of the entity.
func (e *EntityShape) Clone() *EntityShape {
	cp := *e
	cp.Fields = append([]FieldDescriptor(nil), e.Fields...)
	return &cp
}
