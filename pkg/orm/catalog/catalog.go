// Package catalog answers the two schema questions the engine asks of the
// database's own metadata views: does a table exist, and which foreign keys
// does a table declare.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// Catalog runs the dialect's introspection queries
type Catalog struct {
	db      transaction.Querier
	dialect codegen.Dialect
}

// New creates a catalog over a connection
func New(db transaction.Querier, dialect codegen.Dialect) *Catalog {
	return &Catalog{db: db, dialect: dialect}
}

// TableExists reports whether a table exists in the current schema
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, c.dialect.TableExistsQuery(), table).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}

// ForeignKey is one foreign key column and the table it references
type ForeignKey struct {
	Column string
	Table  string
}

// ForeignKeys lists the foreign keys declared on table
func (c *Catalog) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.ForeignKeysQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var keys []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.Table); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		keys = append(keys, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}
	return keys, nil
}

// References reports whether owner has any foreign key to target
func (c *Catalog) References(ctx context.Context, owner, target string) (bool, error) {
	keys, err := c.ForeignKeys(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, fk := range keys {
		if strings.EqualFold(fk.Table, target) {
			return true, nil
		}
	}
	return false, nil
}

// HasForeignKey reports whether column of owner references target. Two
// relationships to the same target are told apart by their column.
func (c *Catalog) HasForeignKey(ctx context.Context, owner, column, target string) (bool, error) {
	keys, err := c.ForeignKeys(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, fk := range keys {
		if strings.EqualFold(fk.Column, column) && strings.EqualFold(fk.Table, target) {
			return true, nil
		}
	}
	return false, nil
}
