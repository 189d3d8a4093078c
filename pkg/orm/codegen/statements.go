package codegen

import (
	"fmt"
	"strings"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// StatementBuilder turns entity metadata into SQL text.
// Value-bearing statements only ever contain bind markers; values are passed separately.
type StatementBuilder struct {
	dialect Dialect
}

// NewStatementBuilder creates a statement builder for a dialect
func NewStatementBuilder(dialect Dialect) *StatementBuilder {
	return &StatementBuilder{dialect: dialect}
}

// Dialect returns the dialect used by the builder
func (b *StatementBuilder) Dialect() Dialect {
	return b.dialect
}

// CreateTable generates an idempotent CREATE TABLE statement
func (b *StatementBuilder) CreateTable(meta *schema.EntityMetadata) (string, error) {
	defs := make([]string, 0, len(meta.Columns)+2)
	defs = append(defs, b.dialect.IdentityColumn(meta.ID.Name))

	for _, col := range meta.Columns {
		sqlType, err := b.dialect.ColumnType(col.Type)
		if err != nil {
			return "", &schema.UnsupportedFieldTypeError{Entity: meta.Name, Field: col.FieldName, Type: col.Type}
		}
		defs = append(defs, col.Name+" "+sqlType)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY(%s)", meta.ID.Name))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", meta.TableName, strings.Join(defs, ", ")), nil
}

// AddForeignKey generates the ALTER TABLE statement adding the relation's foreign key column to owner
func (b *StatementBuilder) AddForeignKey(owner, target *schema.EntityMetadata, rel schema.Relation) string {
	return b.dialect.AddForeignKey(owner.TableName, rel.ForeignKey, target.TableName, target.ID.Name)
}

// DropTable generates a DROP TABLE statement; used for teardown only
func (b *StatementBuilder) DropTable(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", meta.TableName)
}

// Insert generates an INSERT of all write columns in metadata order.
// On dialects that return generated keys, the statement ends with RETURNING <id>.
func (b *StatementBuilder) Insert(meta *schema.EntityMetadata) string {
	cols := meta.WriteColumns()

	var query string
	if len(cols) == 0 {
		query = b.dialect.EmptyInsert(meta.TableName)
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			meta.TableName, strings.Join(cols, ", "), b.placeholders(1, len(cols)))
	}

	if b.dialect.InsertReturningID() {
		query += " RETURNING " + meta.ID.Name
	}
	return query
}

// Update generates an UPDATE of all write columns by identifier.
// The identifier is bound last.
func (b *StatementBuilder) Update(meta *schema.EntityMetadata) string {
	cols := meta.WriteColumns()
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", col, b.dialect.Placeholder(i+1))
	}
	if len(sets) == 0 {
		// Nothing to write; keep the statement valid so it still reports the affected row.
		sets = append(sets, fmt.Sprintf("%s = %s", meta.ID.Name, meta.ID.Name))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		meta.TableName, strings.Join(sets, ", "), meta.ID.Name, b.dialect.Placeholder(len(cols)+1))
}

// DeleteByID generates a DELETE by identifier
func (b *StatementBuilder) DeleteByID(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", meta.TableName, meta.ID.Name, b.dialect.Placeholder(1))
}

// SelectByID generates a SELECT of one row by identifier
func (b *StatementBuilder) SelectByID(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", meta.TableName, meta.ID.Name, b.dialect.Placeholder(1))
}

// SelectAll generates a SELECT of every row ordered by identifier
func (b *StatementBuilder) SelectAll(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s", meta.TableName, meta.ID.Name)
}

// SelectIDsByForeignKey generates a SELECT of the identifiers of child rows referencing a parent
func (b *StatementBuilder) SelectIDsByForeignKey(child *schema.EntityMetadata, foreignKey string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		child.ID.Name, child.TableName, foreignKey, b.dialect.Placeholder(1))
}

// ExistsByID generates a query returning one row when the identifier exists
func (b *StatementBuilder) ExistsByID(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s LIMIT 1", meta.TableName, meta.ID.Name, b.dialect.Placeholder(1))
}

// CountByID generates a COUNT of rows with the identifier
func (b *StatementBuilder) CountByID(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", meta.TableName, meta.ID.Name, b.dialect.Placeholder(1))
}

// CountAll generates a COUNT of every row of the table
func (b *StatementBuilder) CountAll(meta *schema.EntityMetadata) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", meta.TableName)
}

func (b *StatementBuilder) placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = b.dialect.Placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}
