// Package transaction provides the transaction boundary used by multi-statement
// operations such as cascades.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrAlreadyCommitted is returned when finishing a transaction twice
	ErrAlreadyCommitted = errors.New("transaction already committed")
	// ErrAlreadyRolledBack is returned when committing a rolled back transaction
	ErrAlreadyRolledBack = errors.New("transaction already rolled back")
)

// Querier is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transaction wraps a *sql.Tx and tracks whether it has been finished
type Transaction struct {
	tx         *sql.Tx
	ctx        context.Context
	committed  atomic.Bool
	rolledBack atomic.Bool
}

// Manager begins transactions on a database handle
type Manager struct {
	db *sql.DB
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Begin starts a new transaction
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, ctx: ctx}, nil
}

// WithTransaction executes fn within a transaction.
// It commits when fn succeeds and rolls back when fn fails or panics.
// If ctx already carries a transaction, fn joins it and the outer owner decides the outcome.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if outer, ok := FromContext(ctx); ok {
		return fn(outer.tx)
	}

	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Context returns a context with the transaction embedded
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if t.committed.Load() {
		return ErrAlreadyCommitted
	}
	if t.rolledBack.Load() {
		return ErrAlreadyRolledBack
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.committed.Store(true)
	return nil
}

// Rollback rolls back the transaction; rolling back twice is a no-op
func (t *Transaction) Rollback() error {
	if t.committed.Load() {
		return ErrAlreadyCommitted
	}
	if t.rolledBack.Load() {
		return nil
	}

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	t.rolledBack.Store(true)
	return nil
}

// IsCommitted returns true if the transaction has been committed
func (t *Transaction) IsCommitted() bool {
	return t.committed.Load()
}

// IsRolledBack returns true if the transaction has been rolled back
func (t *Transaction) IsRolledBack() bool {
	return t.rolledBack.Load()
}
