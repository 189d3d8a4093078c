// Package migrate creates and drops the tables of registered entities.
// Schema changes are limited to idempotent create-if-absent of tables and
// foreign keys; there is no versioning.
package migrate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/catalog"
	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// Manager applies entity metadata to the database schema
type Manager struct {
	db         transaction.Querier
	registry   *schema.Registry
	statements *codegen.StatementBuilder
	resolver   *relationships.Resolver
	logger     *zap.Logger
}

// NewManager creates a new schema manager
func NewManager(db transaction.Querier, registry *schema.Registry, statements *codegen.StatementBuilder, resolver *relationships.Resolver, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:         db,
		registry:   registry,
		statements: statements,
		resolver:   resolver,
		logger:     logger,
	}
}

// EnsureTable creates the table of an entity unless the catalog already
// reports it. It returns true when the table was created.
func (m *Manager) EnsureTable(ctx context.Context, name string) (bool, error) {
	meta, err := m.registry.Resolve(name)
	if err != nil {
		return false, err
	}

	exists, err := m.catalog().TableExists(ctx, meta.TableName)
	if err != nil {
		return false, err
	}
	if exists {
		m.logger.Debug("table already exists", zap.String("entity", meta.Name), zap.String("table", meta.TableName))
		return false, nil
	}

	ddl, err := m.statements.CreateTable(meta)
	if err != nil {
		return false, err
	}

	start := time.Now()
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", meta.TableName, err)
	}
	m.logger.Info("created table",
		zap.String("entity", meta.Name),
		zap.String("table", meta.TableName),
		zap.String("sql", ddl),
		zap.Duration("took", time.Since(start)))
	return true, nil
}

// EnsureRelationships establishes the foreign keys of every ManyToOne field
// of the named entities. Entities without ManyToOne fields are skipped.
func (m *Manager) EnsureRelationships(ctx context.Context, names ...string) error {
	for _, name := range names {
		meta, err := m.registry.Resolve(name)
		if err != nil {
			return err
		}
		if !meta.HasRelationships() {
			continue
		}
		if err := m.resolver.EstablishAll(ctx, m.db, meta); err != nil {
			return err
		}
	}
	return nil
}

// DropTable removes the table of an entity if it exists
func (m *Manager) DropTable(ctx context.Context, name string) error {
	meta, err := m.registry.Resolve(name)
	if err != nil {
		return err
	}

	ddl := m.statements.DropTable(meta)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", meta.TableName, err)
	}
	m.logger.Info("dropped table", zap.String("entity", meta.Name), zap.String("table", meta.TableName))
	return nil
}

// TableStatus describes the schema state of one entity
type TableStatus struct {
	Entity    string
	Table     string
	Exists    bool
	Relations []RelationStatus
}

// RelationStatus describes the state of one ManyToOne foreign key
type RelationStatus struct {
	Field       string
	Target      string
	ForeignKey  string
	Established bool
}

// Status reports, for every registered entity, whether its table and foreign keys exist
func (m *Manager) Status(ctx context.Context) ([]TableStatus, error) {
	cat := m.catalog()

	var out []TableStatus
	for _, name := range m.registry.List() {
		meta, err := m.registry.Resolve(name)
		if err != nil {
			return nil, err
		}

		exists, err := cat.TableExists(ctx, meta.TableName)
		if err != nil {
			return nil, err
		}
		status := TableStatus{Entity: meta.Name, Table: meta.TableName, Exists: exists}

		for _, rel := range meta.ManyToOne() {
			rs := RelationStatus{Field: rel.FieldName, Target: rel.Target, ForeignKey: rel.ForeignKey}
			if exists {
				target, err := m.registry.Resolve(rel.Target)
				if err != nil {
					return nil, err
				}
				if rs.Established, err = cat.HasForeignKey(ctx, meta.TableName, rel.ForeignKey, target.TableName); err != nil {
					return nil, err
				}
			}
			status.Relations = append(status.Relations, rs)
		}
		out = append(out, status)
	}
	return out, nil
}

func (m *Manager) catalog() *catalog.Catalog {
	return catalog.New(m.db, m.statements.Dialect())
}
