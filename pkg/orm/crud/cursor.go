package crud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/mapper"
	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// CursorState is the lifecycle state of a Cursor
type CursorState int

const (
	// CursorOpen holds an open result set
	CursorOpen CursorState = iota
	// CursorExhausted has returned every row and released its result set
	CursorExhausted
	// CursorClosed was closed by the caller
	CursorClosed
)

// String returns the string representation of the cursor state
func (s CursorState) String() string {
	switch s {
	case CursorOpen:
		return "open"
	case CursorExhausted:
		return "exhausted"
	case CursorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cursor is a single-pass sequence over the rows of one entity. Each call to
// Next maps exactly one row and registers it in the identity cache.
// ManyToOne references are resolved from the cache without issuing queries;
// targets that are not cached are represented by identifier-only instances.
//
// The cursor holds a statement open until it is exhausted or closed. Only one
// open statement per connection is supported.
type Cursor[T any] struct {
	engine *Engine
	meta   *schema.EntityMetadata
	rows   *sql.Rows
	state  CursorState
}

// openCursor starts the SELECT of every row of an entity
func openCursor[T any](ctx context.Context, e *Engine, meta *schema.EntityMetadata) (*Cursor[T], error) {
	query := e.statements.SelectAll(meta)
	e.logger.Debug("open cursor", zap.String("entity", meta.Name), zap.String("sql", query))

	rows, err := e.querier(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, storageError(OperationFind, meta.Name, err)
	}
	return &Cursor[T]{engine: e, meta: meta, rows: rows}, nil
}

// State returns the current state
func (c *Cursor[T]) State() CursorState {
	return c.state
}

// Next returns the next record. It returns ErrNotFound once the rows are
// exhausted and ErrCursorClosed after Close.
func (c *Cursor[T]) Next() (*T, error) {
	switch c.state {
	case CursorClosed:
		return nil, ErrCursorClosed
	case CursorExhausted:
		return nil, fmt.Errorf("%w: %s cursor exhausted", ErrNotFound, c.meta.Name)
	}

	if !c.rows.Next() {
		err := c.rows.Err()
		c.rows.Close()
		c.state = CursorExhausted
		if err != nil {
			return nil, storageError(OperationFind, c.meta.Name, err)
		}
		return nil, fmt.Errorf("%w: %s cursor exhausted", ErrNotFound, c.meta.Name)
	}

	row, err := mapper.ScanRow(c.rows)
	if err != nil {
		c.Close()
		return nil, storageError(OperationFind, c.meta.Name, err)
	}

	rec, err := c.engine.hydrate(c.meta, row, c.engine.cachedResolver, false)
	if err != nil {
		c.Close()
		return nil, err
	}
	return rec.(*T), nil
}

// Close releases the result set. Closing twice is a no-op.
func (c *Cursor[T]) Close() error {
	if c.state == CursorClosed {
		return nil
	}
	wasOpen := c.state == CursorOpen
	c.state = CursorClosed
	if wasOpen {
		return c.rows.Close()
	}
	return nil
}

// All returns the remaining records as a sequence. Stopping the iteration
// early closes the cursor.
func (c *Cursor[T]) All() iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for {
			rec, err := c.Next()
			if err != nil {
				if errors.Is(err, ErrNotFound) && c.state == CursorExhausted {
					return
				}
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				c.Close()
				return
			}
		}
	}
}

// Collect drains the cursor into a slice and closes it
func (c *Cursor[T]) Collect() ([]*T, error) {
	var out []*T
	for rec, err := range c.All() {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, c.Close()
}
