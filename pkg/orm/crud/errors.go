package crud

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/ormanager/ormanager/pkg/orm/mapper"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// Common CRUD error types
var (
	// ErrNotFound is returned when a record is not found, or when a cursor is
	// advanced past its last row
	ErrNotFound = errors.New("record not found")

	// ErrIDAlreadySet is returned by Persist when the record already has an identifier
	ErrIDAlreadySet = errors.New("identifier already set")

	// ErrCursorClosed is returned when a closed cursor is advanced
	ErrCursorClosed = errors.New("cursor closed")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// StorageError wraps a failure reported by the database connection
type StorageError struct {
	Op     Operation
	Entity string
	Err    error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageError wraps err as a StorageError unless it already is one or was
// raised by the engine itself
func storageError(op Operation, entity string, err error) error {
	if err == nil || engineError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Entity: entity, Err: ConvertDBError(err)}
}

func engineError(err error) bool {
	var conversion *mapper.ConversionError
	var unsupported *schema.UnsupportedFieldTypeError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrIDAlreadySet) ||
		errors.Is(err, mapper.ErrTransientReference) ||
		errors.Is(err, schema.ErrUnknownEntity) ||
		errors.Is(err, relationships.ErrNoMappedBy) ||
		errors.As(err, &conversion) ||
		errors.As(err, &unsupported) ||
		relationships.IsMissingRelatedEntity(err)
}

// ConvertDBError converts database-specific errors to CRUD errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	// Check for sql.ErrNoRows
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	// Check for PostgreSQL errors (pgx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if converted := convertSQLState(pgErr.Code, pgErr.Detail, pgErr.ColumnName); converted != nil {
			return converted
		}
	}

	// Check for PostgreSQL errors (lib/pq)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if converted := convertSQLState(string(pqErr.Code), pqErr.Detail, pqErr.Column); converted != nil {
			return converted
		}
	}

	// Check for MySQL errors
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062: // ER_DUP_ENTRY
			return fmt.Errorf("%w: %s", ErrUniqueViolation, myErr.Message)
		case 1451, 1452: // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, myErr.Message)
		case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
			return fmt.Errorf("%w: %s", ErrCheckViolation, myErr.Message)
		case 1048: // ER_BAD_NULL_ERROR
			return fmt.Errorf("%w: %s", ErrNotNullViolation, myErr.Message)
		}
	}

	return err
}

func convertSQLState(code, detail, column string) error {
	switch code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrUniqueViolation, detail)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, detail)
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", ErrCheckViolation, detail)
	case "23502": // not_null_violation
		return fmt.Errorf("%w: column %s", ErrNotNullViolation, column)
	}
	return nil
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIDAlreadySet returns true if the error is ErrIDAlreadySet
func IsIDAlreadySet(err error) bool {
	return errors.Is(err, ErrIDAlreadySet)
}

// IsStorageError returns true if the error is a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
