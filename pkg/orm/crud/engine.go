// Package crud is the mapping engine: it persists, updates, deletes and loads
// records described by schema descriptors, keeping loaded instances in an
// identity cache.
package crud

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/catalog"
	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/identity"
	"github.com/ormanager/ormanager/pkg/orm/migrate"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// Engine binds a registry of entity descriptors to one database.
// It is not safe for concurrent use, and an open cursor must be exhausted or
// closed before the engine runs another statement on the same connection.
type Engine struct {
	db         *sql.DB
	ownsDB     bool
	registry   *schema.Registry
	statements *codegen.StatementBuilder
	cache      *identity.Cache
	resolver   *relationships.Resolver
	schema     *migrate.Manager
	txManager  *transaction.Manager
	logger     *zap.Logger
}

type engineOptions struct {
	dialect       codegen.Dialect
	logger        *zap.Logger
	cacheCapacity int
}

// Option configures an Engine
type Option func(*engineOptions)

// WithDialect selects the SQL dialect. The default is MySQL.
func WithDialect(d codegen.Dialect) Option {
	return func(o *engineOptions) {
		o.dialect = d
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithCacheCapacity bounds the number of cached records per entity
func WithCacheCapacity(n int) Option {
	return func(o *engineOptions) {
		o.cacheCapacity = n
	}
}

// NewEngine creates an engine over an existing connection pool.
// The caller keeps ownership of db.
func NewEngine(db *sql.DB, registry *schema.Registry, opts ...Option) *Engine {
	o := engineOptions{
		dialect:       codegen.MySQL,
		logger:        zap.NewNop(),
		cacheCapacity: identity.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = schema.MustRegistry()
	}

	statements := codegen.NewStatementBuilder(o.dialect)
	resolver := relationships.NewResolver(registry, statements, o.logger.Named("relationships"))

	return &Engine{
		db:         db,
		registry:   registry,
		statements: statements,
		cache:      identity.New(o.cacheCapacity),
		resolver:   resolver,
		schema:     migrate.NewManager(db, registry, statements, resolver, o.logger.Named("schema")),
		txManager:  transaction.NewManager(db),
		logger:     o.logger,
	}
}

// Open connects to a database and creates an engine that owns the connection.
// The dialect is derived from the driver name unless WithDialect is given.
func Open(ctx context.Context, driver, dsn string, registry *schema.Registry, opts ...Option) (*Engine, error) {
	if dialect, err := codegen.DialectFor(driver); err == nil {
		opts = append([]Option{WithDialect(dialect)}, opts...)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: OperationSchema, Err: fmt.Errorf("failed to connect: %w", err)}
	}

	e := NewEngine(db, registry, opts...)
	e.ownsDB = true
	return e, nil
}

// Close releases the connection if the engine opened it
func (e *Engine) Close() error {
	if e.ownsDB {
		return e.db.Close()
	}
	return nil
}

// DB returns the underlying connection pool
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Registry returns the entity registry
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Cache returns the identity cache
func (e *Engine) Cache() *identity.Cache {
	return e.cache
}

// Schema returns the schema manager
func (e *Engine) Schema() *migrate.Manager {
	return e.schema
}

// Dialect returns the SQL dialect in use
func (e *Engine) Dialect() codegen.Dialect {
	return e.statements.Dialect()
}

// Begin starts a transaction. Operations given the returned transaction's
// Context run inside it.
func (e *Engine) Begin(ctx context.Context) (*transaction.Transaction, error) {
	tx, err := e.txManager.Begin(ctx)
	if err != nil {
		return nil, storageError(OperationSchema, "", err)
	}
	return tx, nil
}

// Register adds descriptors to the registry and creates their tables if absent
func (e *Engine) Register(ctx context.Context, defs ...schema.Definition) error {
	for _, def := range defs {
		if !e.registry.Exists(def.Name()) {
			if err := e.registry.Register(def); err != nil {
				return err
			}
		}
		if _, err := e.registry.Resolve(def.Name()); err != nil {
			return err
		}
		if _, err := e.schema.EnsureTable(ctx, def.Name()); err != nil {
			return storageError(OperationSchema, def.Name(), err)
		}
	}
	return nil
}

// CreateRelationships establishes the foreign keys of every ManyToOne field of
// the named entities. Calling it again is a no-op.
func (e *Engine) CreateRelationships(ctx context.Context, entities ...string) error {
	err := e.schema.EnsureRelationships(ctx, entities...)
	if err == nil || relationships.IsMissingRelatedEntity(err) {
		return err
	}
	return storageError(OperationSchema, "", err)
}

// TableExists reports whether the table of an entity exists
func (e *Engine) TableExists(ctx context.Context, entity string) (bool, error) {
	meta, err := e.registry.Resolve(entity)
	if err != nil {
		return false, err
	}
	exists, err := catalog.New(e.querier(ctx), e.Dialect()).TableExists(ctx, meta.TableName)
	if err != nil {
		return false, storageError(OperationSchema, entity, err)
	}
	return exists, nil
}

// RelationshipExists reports whether owner's table has a foreign key to target's table
func (e *Engine) RelationshipExists(ctx context.Context, owner, target string) (bool, error) {
	ownerMeta, err := e.registry.Resolve(owner)
	if err != nil {
		return false, err
	}
	targetMeta, err := e.registry.Resolve(target)
	if err != nil {
		return false, err
	}
	ok, err := e.resolver.Exists(ctx, e.querier(ctx), ownerMeta, targetMeta)
	if err != nil {
		return false, storageError(OperationSchema, owner, err)
	}
	return ok, nil
}

// Exists reports whether a row with the identifier exists
func (e *Engine) Exists(ctx context.Context, entity string, id int64) (bool, error) {
	meta, err := e.registry.Resolve(entity)
	if err != nil {
		return false, err
	}
	return e.exists(ctx, meta, id)
}

// querier returns the transaction carried by ctx, or the pool
func (e *Engine) querier(ctx context.Context) transaction.Querier {
	if tx, ok := transaction.FromContext(ctx); ok {
		return tx.Tx()
	}
	return e.db
}
