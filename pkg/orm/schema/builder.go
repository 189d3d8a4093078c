package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Definition is the type-erased view of a Descriptor held by the Registry
type Definition interface {
	Name() string
	Metadata() (*EntityMetadata, error)
}

// Descriptor declares how entity type T maps to a table.
// The build function runs once, on the first call to Metadata.
type Descriptor[T any] struct {
	name  string
	table string
	build func(b *Builder[T])

	once sync.Once
	meta *EntityMetadata
	err  error
}

// Define declares the descriptor of entity type T.
// An empty table name defaults to the snake_case entity name.
func Define[T any](name, table string, build func(b *Builder[T])) *Descriptor[T] {
	if table == "" {
		table = toSnakeCase(name)
	}
	return &Descriptor[T]{name: name, table: table, build: build}
}

// Name returns the entity name
func (d *Descriptor[T]) Name() string {
	return d.name
}

// Table returns the table name
func (d *Descriptor[T]) Table() string {
	return d.table
}

// Metadata builds and validates the descriptor on first use and returns the cached result afterwards
func (d *Descriptor[T]) Metadata() (*EntityMetadata, error) {
	d.once.Do(func() {
		b := &Builder[T]{
			meta: &EntityMetadata{
				Name:      d.name,
				TableName: d.table,
				newRecord: func() any { return new(T) },
			},
		}
		if d.build != nil {
			d.build(b)
		}
		d.meta, d.err = b.finish()
	})
	return d.meta, d.err
}

// Builder collects the fields of entity type T
type Builder[T any] struct {
	meta   *EntityMetadata
	hasID  bool
	errors []error
}

// ColumnOption customizes a column declaration
type ColumnOption func(c *Column)

// Named overrides the column name, which otherwise defaults to the snake_case field name
func Named(name string) ColumnOption {
	return func(c *Column) {
		c.Name = name
	}
}

// ID declares the identifier field. The column defaults to "id".
func (b *Builder[T]) ID(field func(*T) *int64, opts ...ColumnOption) *Builder[T] {
	if b.hasID {
		b.errors = append(b.errors, fmt.Errorf("%w: %s", ErrDuplicateID, b.meta.Name))
		return b
	}
	col := Column{Name: "id", FieldName: "ID"}
	for _, opt := range opts {
		opt(&col)
	}
	b.hasID = true
	b.meta.ID = IDField{
		Name:      col.Name,
		FieldName: col.FieldName,
		get:       func(rec any) int64 { return *field(rec.(*T)) },
		set:       func(rec any, id int64) { *field(rec.(*T)) = id },
	}
	return b
}

// String declares a VARCHAR column
func (b *Builder[T]) String(field string, ptr func(*T) *string, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeString, ptr, opts)
}

// Int declares an INT column
func (b *Builder[T]) Int(field string, ptr func(*T) *int, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeInt, ptr, opts)
}

// Long declares a BIGINT column
func (b *Builder[T]) Long(field string, ptr func(*T) *int64, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeLong, ptr, opts)
}

// Double declares a DOUBLE column
func (b *Builder[T]) Double(field string, ptr func(*T) *float64, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeDouble, ptr, opts)
}

// Decimal declares a fixed-point column. Values are carried as their exact decimal text.
func (b *Builder[T]) Decimal(field string, ptr func(*T) *string, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeDecimal, ptr, opts)
}

// Bool declares a BOOLEAN column
func (b *Builder[T]) Bool(field string, ptr func(*T) *bool, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeBool, ptr, opts)
}

// Date declares a DATE column; only the calendar date of the value is stored
func (b *Builder[T]) Date(field string, ptr func(*T) *time.Time, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeDate, ptr, opts)
}

// Time declares a time-of-day column
func (b *Builder[T]) Time(field string, ptr func(*T) *time.Time, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeTime, ptr, opts)
}

// DateTime declares a date-time column
func (b *Builder[T]) DateTime(field string, ptr func(*T) *time.Time, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeDateTime, ptr, opts)
}

// UUID declares a UUID column
func (b *Builder[T]) UUID(field string, ptr func(*T) *uuid.UUID, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, TypeUUID, ptr, opts)
}

// Field declares a column of an arbitrary declared type. Resolving an entity whose
// declared type has no mapping rule fails with UnsupportedFieldTypeError.
func Field[T, V any](b *Builder[T], field string, typ PrimitiveType, ptr func(*T) *V, opts ...ColumnOption) *Builder[T] {
	return addColumn(b, field, typ, ptr, opts)
}

// ManyToOne declares a single reference to entity target, stored in column
// foreignKey (default "<target>_id").
func ManyToOne[T, U any](b *Builder[T], field, target, foreignKey string, ptr func(*T) **U) *Builder[T] {
	if foreignKey == "" {
		foreignKey = toSnakeCase(target) + "_id"
	}
	b.meta.Relations = append(b.meta.Relations, Relation{
		Kind:       RelationManyToOne,
		FieldName:  field,
		Target:     target,
		ForeignKey: foreignKey,
		reference: func(rec any) any {
			ref := *ptr(rec.(*T))
			if ref == nil {
				return nil
			}
			return ref
		},
		setReference: func(rec, value any) {
			if value == nil {
				*ptr(rec.(*T)) = nil
				return
			}
			*ptr(rec.(*T)) = value.(*U)
		},
	})
	return b
}

// OneToMany declares a collection of target entities whose ManyToOne field
// mappedBy points back at this entity.
func OneToMany[T, U any](b *Builder[T], field, target, mappedBy string, ptr func(*T) *[]*U) *Builder[T] {
	b.meta.Relations = append(b.meta.Relations, Relation{
		Kind:      RelationOneToMany,
		FieldName: field,
		Target:    target,
		MappedBy:  mappedBy,
		children: func(rec any) []any {
			items := *ptr(rec.(*T))
			out := make([]any, 0, len(items))
			for _, item := range items {
				if item != nil {
					out = append(out, item)
				}
			}
			return out
		},
	})
	return b
}

func addColumn[T, V any](b *Builder[T], field string, typ PrimitiveType, ptr func(*T) *V, opts []ColumnOption) *Builder[T] {
	col := Column{
		Name:      toSnakeCase(field),
		FieldName: field,
		Type:      typ,
		get: func(rec any) any {
			return *ptr(rec.(*T))
		},
		set: func(rec any, value any) error {
			if value == nil {
				var zero V
				*ptr(rec.(*T)) = zero
				return nil
			}
			v, ok := value.(V)
			if !ok {
				return fmt.Errorf("field %s: cannot assign %T", field, value)
			}
			*ptr(rec.(*T)) = v
			return nil
		},
	}
	for _, opt := range opts {
		opt(&col)
	}
	b.meta.Columns = append(b.meta.Columns, col)
	return b
}

// finish validates the collected fields
func (b *Builder[T]) finish() (*EntityMetadata, error) {
	m := b.meta
	errs := append([]error(nil), b.errors...)

	if !b.hasID {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingID, m.Name))
	}
	if !identifierPattern.MatchString(m.TableName) {
		errs = append(errs, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, m.TableName))
	}
	if b.hasID && !identifierPattern.MatchString(m.ID.Name) {
		errs = append(errs, fmt.Errorf("%w: identifier column %q of %s", ErrInvalidIdentifier, m.ID.Name, m.Name))
	}

	seen := map[string]bool{m.ID.Name: true}
	for _, name := range m.WriteColumns() {
		if !identifierPattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("%w: column %q of %s", ErrInvalidIdentifier, name, m.Name))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, m.Name, name))
		}
		seen[name] = true
	}

	for _, c := range m.Columns {
		if !c.Type.Supported() {
			errs = append(errs, &UnsupportedFieldTypeError{Entity: m.Name, Field: c.FieldName, Type: c.Type})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}
