// Package schema provides the metadata model of the ORM.
// Each entity type is described once by an explicit descriptor (see Define) that
// lists its identifier, columns and relations together with typed accessors, so
// the rest of the engine never needs runtime field introspection.
package schema

import (
	"fmt"
	"strings"
)

// PrimitiveType represents the declared type of a mapped column
type PrimitiveType int

const (
	// Text
	TypeString PrimitiveType = iota

	// Numeric types
	TypeInt
	TypeLong
	TypeDouble
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeDate
	TypeTime
	TypeDateTime

	// Unique identifiers
	TypeUUID

	// Declarable, but without a storage mapping rule
	TypeJSON
	TypeEnum
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeDouble:
		return "double"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeDateTime:
		return "datetime"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch strings.ToLower(s) {
	case "string":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "long", "bigint":
		return TypeLong, nil
	case "double", "float":
		return TypeDouble, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	case "datetime", "timestamp":
		return TypeDateTime, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	case "enum":
		return TypeEnum, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// SQLTypeFor returns the canonical (MySQL) column type for a declared type.
// Dialects may render a different spelling but support exactly the same set.
func SQLTypeFor(p PrimitiveType) (string, error) {
	switch p {
	case TypeString:
		return "VARCHAR(255)", nil
	case TypeInt:
		return "INT", nil
	case TypeLong:
		return "BIGINT", nil
	case TypeDouble:
		return "DOUBLE", nil
	case TypeDecimal:
		return "DECIMAL(19,4)", nil
	case TypeBool:
		return "BOOLEAN", nil
	case TypeDate:
		return "DATE", nil
	case TypeTime, TypeDateTime:
		return "DATETIME", nil
	case TypeUUID:
		return "UUID", nil
	default:
		return "", &UnsupportedFieldTypeError{Type: p}
	}
}

// Supported reports whether the type has a storage mapping rule
func (p PrimitiveType) Supported() bool {
	_, err := SQLTypeFor(p)
	return err == nil
}

// RelationType represents the kind of association between two entities
type RelationType int

const (
	// RelationManyToOne is a single reference to a parent entity
	RelationManyToOne RelationType = iota
	// RelationOneToMany is an ordered collection of child entities
	RelationOneToMany
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationManyToOne:
		return "many_to_one"
	case RelationOneToMany:
		return "one_to_many"
	default:
		return "unknown"
	}
}

// IDField describes the single identifier field of an entity.
// A zero identifier means the record is transient (or detached after deletion).
type IDField struct {
	Name      string // column name
	FieldName string

	get func(any) int64
	set func(any, int64)
}

// Get returns the identifier of a record
func (f IDField) Get(record any) int64 {
	return f.get(record)
}

// Set assigns the identifier of a record
func (f IDField) Set(record any, id int64) {
	f.set(record, id)
}

// Column describes a mapped scalar field
type Column struct {
	Name      string // column name
	FieldName string
	Type      PrimitiveType

	get func(any) any
	set func(any, any) error
}

// Get returns the current field value of a record
func (c Column) Get(record any) any {
	return c.get(record)
}

// Set assigns a value that already has the field's Go type
func (c Column) Set(record any, value any) error {
	return c.set(record, value)
}

// Relation describes a ManyToOne or OneToMany field
type Relation struct {
	Kind      RelationType
	FieldName string
	Target    string // target entity name

	// ForeignKey is the owner-side column for ManyToOne relations
	ForeignKey string
	// MappedBy names the ManyToOne field on the target for OneToMany relations
	MappedBy string

	reference    func(any) any
	setReference func(any, any)
	children     func(any) []any
}

// Reference returns the related record of a ManyToOne field, or nil
func (r Relation) Reference(record any) any {
	if r.reference == nil {
		return nil
	}
	return r.reference(record)
}

// SetReference assigns the related record of a ManyToOne field; nil clears it
func (r Relation) SetReference(record, target any) {
	if r.setReference != nil {
		r.setReference(record, target)
	}
}

// Children returns the non-nil members of a OneToMany collection
func (r Relation) Children(record any) []any {
	if r.children == nil {
		return nil
	}
	return r.children(record)
}

// EntityMetadata is the immutable descriptor of one entity type
type EntityMetadata struct {
	Name      string
	TableName string
	ID        IDField
	Columns   []Column
	Relations []Relation

	newRecord func() any
}

// New returns a fresh zero-valued record of the entity type
func (m *EntityMetadata) New() any {
	return m.newRecord()
}

// IDOf returns the identifier of a record
func (m *EntityMetadata) IDOf(record any) int64 {
	return m.ID.Get(record)
}

// Column returns the column with the given name
func (m *EntityMetadata) Column(name string) (Column, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ManyToOne returns the ManyToOne relations in declaration order
func (m *EntityMetadata) ManyToOne() []Relation {
	return m.relationsOf(RelationManyToOne)
}

// OneToMany returns the OneToMany relations in declaration order
func (m *EntityMetadata) OneToMany() []Relation {
	return m.relationsOf(RelationOneToMany)
}

// Relation returns the relation declared on the given field
func (m *EntityMetadata) Relation(fieldName string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.FieldName == fieldName {
			return r, true
		}
	}
	return Relation{}, false
}

// HasRelationships returns true if the entity owns at least one foreign key
func (m *EntityMetadata) HasRelationships() bool {
	return len(m.ManyToOne()) > 0
}

// WriteColumns lists the columns written by INSERT and UPDATE: the scalar
// columns followed by the ManyToOne foreign key columns.
func (m *EntityMetadata) WriteColumns() []string {
	cols := make([]string, 0, len(m.Columns)+len(m.Relations))
	for _, c := range m.Columns {
		cols = append(cols, c.Name)
	}
	for _, r := range m.ManyToOne() {
		cols = append(cols, r.ForeignKey)
	}
	return cols
}

func (m *EntityMetadata) relationsOf(kind RelationType) []Relation {
	var out []Relation
	for _, r := range m.Relations {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
