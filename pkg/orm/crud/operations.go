package crud

// Operation represents an engine operation type
type Operation int

const (
	// OperationPersist represents an insert of a transient record
	OperationPersist Operation = iota
	// OperationSave represents an insert-or-update
	OperationSave
	// OperationMerge represents an update by identifier
	OperationMerge
	// OperationDelete represents a cascading delete
	OperationDelete
	// OperationReload represents a reload by identifier
	OperationReload
	// OperationFind represents a read
	OperationFind
	// OperationSchema represents table or foreign key management
	OperationSchema
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationPersist:
		return "persist"
	case OperationSave:
		return "save"
	case OperationMerge:
		return "merge"
	case OperationDelete:
		return "delete"
	case OperationReload:
		return "reload"
	case OperationFind:
		return "find"
	case OperationSchema:
		return "schema"
	default:
		return "unknown"
	}
}
