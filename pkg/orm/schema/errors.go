package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingID is returned when an entity declares no identifier field
	ErrMissingID = errors.New("entity has no identifier field")

	// ErrDuplicateID is returned when an entity declares more than one identifier field
	ErrDuplicateID = errors.New("entity has more than one identifier field")

	// ErrDuplicateColumn is returned when two fields map to the same column
	ErrDuplicateColumn = errors.New("duplicate column name")

	// ErrInvalidIdentifier is returned for table or column names that are not plain SQL identifiers
	ErrInvalidIdentifier = errors.New("invalid SQL identifier")

	// ErrUnknownEntity is returned when a name has not been registered
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrAlreadyRegistered is returned when an entity name is registered twice
	ErrAlreadyRegistered = errors.New("entity already registered")
)

// UnsupportedFieldTypeError is returned when a declared type has no storage mapping rule
type UnsupportedFieldTypeError struct {
	Entity string
	Field  string
	Type   PrimitiveType
}

// Error implements the error interface
func (e *UnsupportedFieldTypeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("could not get sql type for field type %s", e.Type)
	}
	return fmt.Sprintf("could not get sql type for field %s.%s of type %s", e.Entity, e.Field, e.Type)
}

// IsUnsupportedFieldType returns true if the error is an UnsupportedFieldTypeError
func IsUnsupportedFieldType(err error) bool {
	var typeErr *UnsupportedFieldTypeError
	return errors.As(err, &typeErr)
}
