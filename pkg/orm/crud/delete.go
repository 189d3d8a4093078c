package crud

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// delete removes a persisted record and everything reachable through its
// OneToMany relations in one transaction. Once committed, the identifiers of
// the removed records are set to zero and they leave the identity cache.
// It reports false, without error, when no row matches the record.
func (e *Engine) delete(ctx context.Context, meta *schema.EntityMetadata, record any) (bool, error) {
	id := meta.IDOf(record)
	exists, err := e.exists(ctx, meta, id)
	if err != nil || !exists {
		return false, err
	}

	var detached *relationships.Detachment
	err = e.txManager.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		detached, err = e.resolver.CascadeDelete(ctx, tx, meta, record)
		return err
	})
	if err != nil {
		return false, storageError(OperationDelete, meta.Name, err)
	}

	detached.Apply(e.cache)
	e.logger.Info("deleted",
		zap.String("entity", meta.Name),
		zap.Int64("id", id),
		zap.Int("rows", detached.Count()))
	return true, nil
}
