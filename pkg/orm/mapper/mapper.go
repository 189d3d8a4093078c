// Package mapper converts between records and database rows.
// A single coercion table (see FromStorage) serves every query path, so the
// set of round-trippable types always equals the set the schema can declare.
package mapper

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// ErrTransientReference is returned when a ManyToOne field points at a record
// that has not been saved yet. Save the referenced side first.
var ErrTransientReference = errors.New("referenced record has no identifier")

// Row holds one result row keyed by lower-cased column name
type Row map[string]any

// Get returns the value of a column, matching names case-insensitively
func (r Row) Get(column string) (any, bool) {
	v, ok := r[strings.ToLower(column)]
	return v, ok
}

// ReferenceResolver returns the record to install in a ManyToOne field for a
// target entity and identifier.
type ReferenceResolver func(target string, id int64) (any, error)

// Resolver looks up the metadata of relation targets
type Resolver interface {
	Resolve(name string) (*schema.EntityMetadata, error)
}

// ToRow extracts the bound values of a record in WriteColumns order.
// ManyToOne references contribute their target's identifier, or NULL when unset.
func ToRow(meta *schema.EntityMetadata, record any, registry Resolver) ([]any, error) {
	values := make([]any, 0, len(meta.Columns)+len(meta.Relations))

	for _, col := range meta.Columns {
		v, err := ToStorage(col.Type, col.Get(record))
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", meta.Name, col.Name, err)
		}
		values = append(values, v)
	}

	for _, rel := range meta.ManyToOne() {
		ref := rel.Reference(record)
		if ref == nil {
			values = append(values, nil)
			continue
		}
		target, err := registry.Resolve(rel.Target)
		if err != nil {
			return nil, err
		}
		id := target.IDOf(ref)
		if id == 0 {
			return nil, fmt.Errorf("%s.%s -> %s: %w", meta.Name, rel.FieldName, rel.Target, ErrTransientReference)
		}
		values = append(values, id)
	}

	return values, nil
}

// FromRow instantiates a new record and fills its identifier, columns and
// ManyToOne references. Columns missing from the row keep their zero value.
func FromRow(meta *schema.EntityMetadata, row Row, refs ReferenceResolver) (any, error) {
	record := meta.New()

	raw, ok := row.Get(meta.ID.Name)
	if !ok {
		return nil, fmt.Errorf("row of %s has no %s column", meta.TableName, meta.ID.Name)
	}
	id, err := IDFromStorage(raw)
	if err != nil {
		return nil, fmt.Errorf("column %s.%s: %w", meta.Name, meta.ID.Name, err)
	}
	meta.ID.Set(record, id)

	for _, col := range meta.Columns {
		raw, ok := row.Get(col.Name)
		if !ok {
			continue
		}
		v, err := FromStorage(col.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", meta.Name, col.Name, err)
		}
		if err := col.Set(record, v); err != nil {
			return nil, err
		}
	}

	for _, rel := range meta.ManyToOne() {
		raw, ok := row.Get(rel.ForeignKey)
		if !ok || raw == nil {
			continue
		}
		targetID, err := IDFromStorage(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", meta.Name, rel.ForeignKey, err)
		}
		if targetID == 0 || refs == nil {
			continue
		}
		ref, err := refs(rel.Target, targetID)
		if err != nil {
			return nil, err
		}
		rel.SetReference(record, ref)
	}

	return record, nil
}

// ScanRow reads the current row of rows into a Row
func ScanRow(rows *sql.Rows) (Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(columns))
	for i, col := range columns {
		row[strings.ToLower(col)] = values[i]
	}
	return row, nil
}
