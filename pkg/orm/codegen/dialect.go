// Package codegen generates SQL text from entity metadata.
// Generation is pure: no function in this package touches a connection.
package codegen

import (
	"fmt"
	"strings"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// Dialect captures the SQL differences between supported databases
type Dialect interface {
	// Name returns the dialect name
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) parameter
	Placeholder(n int) string
	// ColumnType maps a declared type to a column type
	ColumnType(t schema.PrimitiveType) (string, error)
	// IdentityColumn renders the auto-increment identifier column definition
	IdentityColumn(column string) string
	// AddForeignKey renders the DDL adding a cascading foreign key column to owner
	AddForeignKey(owner, column, target, targetID string) string
	// InsertReturningID reports whether INSERT must use RETURNING to obtain the generated key
	InsertReturningID() bool
	// EmptyInsert renders an INSERT for a table with no writable columns
	EmptyInsert(table string) string
	// TableExistsQuery counts tables named by the single parameter in the current schema
	TableExistsQuery() string
	// ForeignKeysQuery lists the column and referenced table of every foreign key
	// of the table named by the single parameter
	ForeignKeysQuery() string
}

type sqlDialect struct {
	name           string
	numbered       bool
	returning      bool
	identity       string
	foreignKeyType string
	inlineFK       bool
	emptyInsert    string
	types          map[schema.PrimitiveType]string
	tableExists    string
	foreignKeys    string
}

func (d *sqlDialect) Name() string {
	return d.name
}

func (d *sqlDialect) Placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d *sqlDialect) ColumnType(t schema.PrimitiveType) (string, error) {
	sqlType, ok := d.types[t]
	if !ok {
		return "", &schema.UnsupportedFieldTypeError{Type: t}
	}
	return sqlType, nil
}

func (d *sqlDialect) IdentityColumn(column string) string {
	return column + " " + d.identity
}

func (d *sqlDialect) AddForeignKey(owner, column, target, targetID string) string {
	if d.inlineFK {
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s REFERENCES %s(%s) ON DELETE CASCADE",
			owner, column, d.foreignKeyType, target, targetID)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s, ADD FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE",
		owner, column, d.foreignKeyType, column, target, targetID)
}

func (d *sqlDialect) InsertReturningID() bool {
	return d.returning
}

func (d *sqlDialect) EmptyInsert(table string) string {
	return fmt.Sprintf(d.emptyInsert, table)
}

func (d *sqlDialect) TableExistsQuery() string {
	return d.tableExists
}

func (d *sqlDialect) ForeignKeysQuery() string {
	return d.foreignKeys
}

// MySQL renders the DDL of the reference schema: BIGINT UNSIGNED AUTO_INCREMENT keys
// and information_schema lookups scoped to the connection's database.
var MySQL Dialect = &sqlDialect{
	name:           "mysql",
	identity:       "BIGINT UNSIGNED AUTO_INCREMENT",
	foreignKeyType: "BIGINT UNSIGNED",
	emptyInsert:    "INSERT INTO %s () VALUES ()",
	types: map[schema.PrimitiveType]string{
		schema.TypeString:   "VARCHAR(255)",
		schema.TypeInt:      "INT",
		schema.TypeLong:     "BIGINT",
		schema.TypeDouble:   "DOUBLE",
		schema.TypeDecimal:  "DECIMAL(19,4)",
		schema.TypeBool:     "BOOLEAN",
		schema.TypeDate:     "DATE",
		schema.TypeTime:     "DATETIME(6)",
		schema.TypeDateTime: "DATETIME(6)",
		schema.TypeUUID:     "CHAR(36)",
	},
	tableExists: "SELECT COUNT(*) FROM information_schema.TABLES " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
	foreignKeys: "SELECT COLUMN_NAME, REFERENCED_TABLE_NAME FROM information_schema.KEY_COLUMN_USAGE " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL",
}

// Postgres numbers its parameters and returns generated keys with RETURNING
var Postgres Dialect = &sqlDialect{
	name:           "postgres",
	numbered:       true,
	returning:      true,
	identity:       "BIGSERIAL",
	foreignKeyType: "BIGINT",
	emptyInsert:    "INSERT INTO %s DEFAULT VALUES",
	types: map[schema.PrimitiveType]string{
		schema.TypeString:   "VARCHAR(255)",
		schema.TypeInt:      "INTEGER",
		schema.TypeLong:     "BIGINT",
		schema.TypeDouble:   "DOUBLE PRECISION",
		schema.TypeDecimal:  "NUMERIC(19,4)",
		schema.TypeBool:     "BOOLEAN",
		schema.TypeDate:     "DATE",
		schema.TypeTime:     "TIMESTAMP",
		schema.TypeDateTime: "TIMESTAMP",
		schema.TypeUUID:     "UUID",
	},
	tableExists: "SELECT COUNT(*) FROM information_schema.tables " +
		"WHERE table_schema = current_schema() AND table_name = $1",
	foreignKeys: "SELECT kcu.column_name, ccu.table_name FROM information_schema.table_constraints tc " +
		"JOIN information_schema.key_column_usage kcu " +
		"ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema " +
		"JOIN information_schema.constraint_column_usage ccu " +
		"ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema " +
		"WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema() AND tc.table_name = $1",
}

// SQLite stores the identifier as the rowid alias. Decimals are kept as TEXT so
// their exact representation survives the round trip.
var SQLite Dialect = &sqlDialect{
	name:           "sqlite3",
	identity:       "INTEGER",
	foreignKeyType: "INTEGER",
	inlineFK:       true,
	emptyInsert:    "INSERT INTO %s DEFAULT VALUES",
	types: map[schema.PrimitiveType]string{
		schema.TypeString:   "VARCHAR(255)",
		schema.TypeInt:      "INTEGER",
		schema.TypeLong:     "BIGINT",
		schema.TypeDouble:   "DOUBLE",
		schema.TypeDecimal:  "TEXT",
		schema.TypeBool:     "BOOLEAN",
		schema.TypeDate:     "DATE",
		schema.TypeTime:     "DATETIME",
		schema.TypeDateTime: "DATETIME",
		schema.TypeUUID:     "TEXT",
	},
	tableExists: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	foreignKeys: `SELECT "from", "table" FROM pragma_foreign_key_list(?)`,
}

// DialectFor returns the dialect matching a dialect or driver name
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
}
