package crud

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/mapper"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// persist inserts a transient record and assigns its generated identifier
func (e *Engine) persist(ctx context.Context, meta *schema.EntityMetadata, record any) error {
	if id := meta.IDOf(record); id != 0 {
		return fmt.Errorf("%w: %s %d", ErrIDAlreadySet, meta.Name, id)
	}
	return e.insert(ctx, e.querier(ctx), meta, record, OperationPersist)
}

// save updates the record when its identifier matches a row, and inserts it
// otherwise. New children of OneToMany collections are inserted in the same
// transaction. Saved records are added to the identity cache.
func (e *Engine) save(ctx context.Context, meta *schema.EntityMetadata, record any) error {
	id := meta.IDOf(record)
	exists, err := e.exists(ctx, meta, id)
	if err != nil {
		return err
	}
	if exists {
		_, err := e.merge(ctx, meta, record)
		return err
	}

	if id != 0 {
		// Stale identifier: the row is gone, so the record is inserted again.
		e.cache.Remove(meta.Name, id)
		meta.ID.Set(record, 0)
	}

	var saved []relationships.SavedRecord
	err = e.txManager.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := e.insert(ctx, tx, meta, record, OperationSave); err != nil {
			return err
		}
		var err error
		saved, err = e.resolver.CascadeSave(ctx, tx, meta, record, e.inserter(OperationSave))
		return err
	})
	if err != nil {
		meta.ID.Set(record, id)
		e.resetIdentifiers(saved)
		return storageError(OperationSave, meta.Name, err)
	}

	e.cache.Put(meta.Name, meta.IDOf(record), record)
	e.cacheSaved(saved)
	return nil
}

// insert executes the INSERT of a record and assigns the generated identifier.
// Storage failures are reported as op, the operation the caller is running.
func (e *Engine) insert(ctx context.Context, q transaction.Querier, meta *schema.EntityMetadata, record any, op Operation) error {
	values, err := mapper.ToRow(meta, record, e.registry)
	if err != nil {
		return err
	}

	query := e.statements.Insert(meta)
	e.logger.Debug("insert", zap.String("entity", meta.Name), zap.String("sql", query))

	var id int64
	if e.statements.Dialect().InsertReturningID() {
		if err := q.QueryRowContext(ctx, query, values...).Scan(&id); err != nil {
			return storageError(op, meta.Name, err)
		}
	} else {
		res, err := q.ExecContext(ctx, query, values...)
		if err != nil {
			return storageError(op, meta.Name, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return storageError(op, meta.Name, err)
		}
	}

	meta.ID.Set(record, id)
	e.logger.Debug("inserted", zap.String("entity", meta.Name), zap.Int64("id", id))
	return nil
}

// inserter binds insert to op for cascades
func (e *Engine) inserter(op Operation) relationships.InsertFunc {
	return func(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, record any) error {
		return e.insert(ctx, tx, meta, record, op)
	}
}

// resetIdentifiers undoes the identifiers assigned during a rolled back cascade
func (e *Engine) resetIdentifiers(saved []relationships.SavedRecord) {
	for _, s := range saved {
		s.Meta.ID.Set(s.Record, 0)
	}
}

func (e *Engine) cacheSaved(saved []relationships.SavedRecord) {
	for _, s := range saved {
		e.cache.Put(s.Meta.Name, s.Meta.IDOf(s.Record), s.Record)
	}
}
