package relationships

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRelationship is returned when a relationship is not found
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrNoMappedBy is returned when a OneToMany relation has no matching ManyToOne on its target
	ErrNoMappedBy = errors.New("one-to-many relation has no matching many-to-one field")
)

// MissingRelatedEntityError is returned when a foreign key cannot be created
// because the referenced entity has no table
type MissingRelatedEntityError struct {
	Owner  string
	Entity string
}

// Error implements the error interface
func (e *MissingRelatedEntityError) Error() string {
	return fmt.Sprintf("relationship between %s and %s cannot be made: missing entity %s",
		e.Owner, e.Entity, e.Entity)
}

// IsMissingRelatedEntity returns true if the error is a MissingRelatedEntityError
func IsMissingRelatedEntity(err error) bool {
	var missing *MissingRelatedEntityError
	return errors.As(err, &missing)
}
