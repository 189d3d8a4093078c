package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/identity"
	"github.com/ormanager/ormanager/pkg/orm/mapper"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// exists checks by identifier whether a row is present
func (e *Engine) exists(ctx context.Context, meta *schema.EntityMetadata, id int64) (bool, error) {
	if id == 0 {
		return false, nil
	}

	query := e.statements.ExistsByID(meta)
	e.logger.Debug("exists", zap.String("entity", meta.Name), zap.Int64("id", id), zap.String("sql", query))

	var one int
	err := e.querier(ctx).QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError(OperationFind, meta.Name, err)
	}
	return true, nil
}

// findByID loads one record. A record already held by the identity cache is
// returned as is; otherwise the loaded record is cached.
func (e *Engine) findByID(ctx context.Context, meta *schema.EntityMetadata, id int64, refresh bool) (any, error) {
	q := e.querier(ctx)
	row, err := e.selectRow(ctx, q, meta, id)
	if err != nil {
		return nil, err
	}
	return e.hydrate(meta, row, e.loadingResolver(ctx, q, map[identity.Key]bool{}), refresh)
}

// findAll loads every row of an entity. Rows are read completely before
// references are resolved, so no two statements are open at once.
func (e *Engine) findAll(ctx context.Context, meta *schema.EntityMetadata) ([]any, error) {
	q := e.querier(ctx)
	query := e.statements.SelectAll(meta)
	e.logger.Debug("find all", zap.String("entity", meta.Name), zap.String("sql", query))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, storageError(OperationFind, meta.Name, err)
	}

	var raw []mapper.Row
	for rows.Next() {
		row, err := mapper.ScanRow(rows)
		if err != nil {
			rows.Close()
			return nil, storageError(OperationFind, meta.Name, err)
		}
		raw = append(raw, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storageError(OperationFind, meta.Name, err)
	}
	rows.Close()

	refs := e.loadingResolver(ctx, q, map[identity.Key]bool{})
	records := make([]any, 0, len(raw))
	for _, row := range raw {
		rec, err := e.hydrate(meta, row, refs, false)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// selectRow reads the row with the identifier and releases the statement
func (e *Engine) selectRow(ctx context.Context, q transaction.Querier, meta *schema.EntityMetadata, id int64) (mapper.Row, error) {
	query := e.statements.SelectByID(meta)
	e.logger.Debug("find by id", zap.String("entity", meta.Name), zap.Int64("id", id), zap.String("sql", query))

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, storageError(OperationFind, meta.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storageError(OperationFind, meta.Name, err)
		}
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, meta.Name, id)
	}
	row, err := mapper.ScanRow(rows)
	if err != nil {
		return nil, storageError(OperationFind, meta.Name, err)
	}
	return row, nil
}

// hydrate maps a row through the identity cache. Unless refresh is set, an
// instance already cached for the row's identifier wins over the row.
func (e *Engine) hydrate(meta *schema.EntityMetadata, row mapper.Row, refs mapper.ReferenceResolver, refresh bool) (any, error) {
	if !refresh {
		if raw, ok := row.Get(meta.ID.Name); ok {
			if id, err := mapper.IDFromStorage(raw); err == nil {
				if cached, ok := e.cache.Get(meta.Name, id); ok {
					return cached, nil
				}
			}
		}
	}

	rec, err := mapper.FromRow(meta, row, refs)
	if err != nil {
		return nil, err
	}
	e.cache.Put(meta.Name, meta.IDOf(rec), rec)
	return rec, nil
}

// loadingResolver resolves ManyToOne references through the cache and loads
// missing targets with one query each. A reference cycle is cut with an
// identifier-only instance.
func (e *Engine) loadingResolver(ctx context.Context, q transaction.Querier, loading map[identity.Key]bool) mapper.ReferenceResolver {
	var resolve mapper.ReferenceResolver
	resolve = func(target string, id int64) (any, error) {
		if cached, ok := e.cache.Get(target, id); ok {
			return cached, nil
		}
		meta, err := e.registry.Resolve(target)
		if err != nil {
			return nil, err
		}

		key := identity.Key{Entity: target, ID: id}
		if loading[key] {
			return stub(meta, id), nil
		}
		loading[key] = true
		defer delete(loading, key)

		row, err := e.selectRow(ctx, q, meta, id)
		if errors.Is(err, ErrNotFound) {
			return stub(meta, id), nil
		}
		if err != nil {
			return nil, err
		}
		return e.hydrate(meta, row, resolve, false)
	}
	return resolve
}

// cachedResolver resolves ManyToOne references without touching the database:
// the cached instance, or an identifier-only instance.
func (e *Engine) cachedResolver(target string, id int64) (any, error) {
	if cached, ok := e.cache.Get(target, id); ok {
		return cached, nil
	}
	meta, err := e.registry.Resolve(target)
	if err != nil {
		return nil, err
	}
	return stub(meta, id), nil
}

func stub(meta *schema.EntityMetadata, id int64) any {
	rec := meta.New()
	meta.ID.Set(rec, id)
	return rec
}
