package crud

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/mapper"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// merge writes every column of a persisted record by identifier and inserts
// the new children of its OneToMany collections, in one transaction. It
// reports whether exactly one row was updated; a record without a matching
// row is left untouched.
func (e *Engine) merge(ctx context.Context, meta *schema.EntityMetadata, record any) (bool, error) {
	id := meta.IDOf(record)
	exists, err := e.exists(ctx, meta, id)
	if err != nil || !exists {
		return false, err
	}

	values, err := mapper.ToRow(meta, record, e.registry)
	if err != nil {
		return false, err
	}
	values = append(values, id)
	query := e.statements.Update(meta)

	var (
		affected int64
		saved    []relationships.SavedRecord
	)
	err = e.txManager.WithTransaction(ctx, func(tx *sql.Tx) error {
		e.logger.Debug("update", zap.String("entity", meta.Name), zap.Int64("id", id), zap.String("sql", query))
		res, err := tx.ExecContext(ctx, query, values...)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		saved, err = e.resolver.CascadeSave(ctx, tx, meta, record, e.inserter(OperationMerge))
		return err
	})
	if err != nil {
		e.resetIdentifiers(saved)
		return false, storageError(OperationMerge, meta.Name, err)
	}

	e.cache.Put(meta.Name, id, record)
	e.cacheSaved(saved)
	return affected == 1, nil
}

// reload returns a freshly loaded copy of a persisted record and makes it the
// cached instance. A transient record, or one whose row is gone, is returned
// unchanged.
func (e *Engine) reload(ctx context.Context, meta *schema.EntityMetadata, record any) (any, error) {
	id := meta.IDOf(record)
	exists, err := e.exists(ctx, meta, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		e.logger.Debug("nothing to reload", zap.String("entity", meta.Name), zap.Int64("id", id))
		return record, nil
	}

	fresh, err := e.findByID(ctx, meta, id, true)
	if err != nil {
		return nil, storageError(OperationReload, meta.Name, err)
	}
	return fresh, nil
}
