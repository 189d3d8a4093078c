// Package relationships resolves foreign keys between entities: it creates them
// in the schema and propagates deletes and saves along OneToMany relations.
package relationships

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/pkg/orm/catalog"
	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/identity"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

// Resolver handles relationship DDL and cascades
type Resolver struct {
	registry   *schema.Registry
	statements *codegen.StatementBuilder
	logger     *zap.Logger
}

// NewResolver creates a new relationship resolver
func NewResolver(registry *schema.Registry, statements *codegen.StatementBuilder, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		registry:   registry,
		statements: statements,
		logger:     logger,
	}
}

// ChildForeignKey returns the child metadata of a OneToMany relation and the
// child column that references the parent.
func (r *Resolver) ChildForeignKey(parent *schema.EntityMetadata, rel schema.Relation) (*schema.EntityMetadata, schema.Relation, error) {
	if rel.Kind != schema.RelationOneToMany {
		return nil, schema.Relation{}, fmt.Errorf("%w: %s.%s is %s", ErrUnknownRelationship, parent.Name, rel.FieldName, rel.Kind)
	}

	child, err := r.registry.Resolve(rel.Target)
	if err != nil {
		return nil, schema.Relation{}, err
	}

	for _, back := range child.ManyToOne() {
		if back.Target != parent.Name {
			continue
		}
		if rel.MappedBy == "" || back.FieldName == rel.MappedBy {
			return child, back, nil
		}
	}
	return nil, schema.Relation{}, fmt.Errorf("%w: %s.%s -> %s.%s", ErrNoMappedBy, parent.Name, rel.FieldName, child.Name, rel.MappedBy)
}

// Establish creates the foreign keys from owner to target for every ManyToOne
// field of owner that targets it. Existing keys are left untouched, so repeated
// calls are no-ops.
func (r *Resolver) Establish(ctx context.Context, db transaction.Querier, ownerName, targetName string) error {
	owner, err := r.registry.Resolve(ownerName)
	if err != nil {
		return err
	}

	found := false
	for _, rel := range owner.ManyToOne() {
		if rel.Target != targetName {
			continue
		}
		found = true
		if err := r.establish(ctx, db, owner, rel); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s has no many-to-one field targeting %s", ErrUnknownRelationship, ownerName, targetName)
	}
	return nil
}

// EstablishAll creates the foreign keys of every ManyToOne field of owner
func (r *Resolver) EstablishAll(ctx context.Context, db transaction.Querier, owner *schema.EntityMetadata) error {
	for _, rel := range owner.ManyToOne() {
		if err := r.establish(ctx, db, owner, rel); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether owner's table already references target's table
func (r *Resolver) Exists(ctx context.Context, db transaction.Querier, owner, target *schema.EntityMetadata) (bool, error) {
	return catalog.New(db, r.statements.Dialect()).References(ctx, owner.TableName, target.TableName)
}

func (r *Resolver) establish(ctx context.Context, db transaction.Querier, owner *schema.EntityMetadata, rel schema.Relation) error {
	target, err := r.registry.Resolve(rel.Target)
	if err != nil {
		return err
	}

	cat := catalog.New(db, r.statements.Dialect())
	exists, err := cat.TableExists(ctx, target.TableName)
	if err != nil {
		return err
	}
	if !exists {
		return &MissingRelatedEntityError{Owner: owner.Name, Entity: target.Name}
	}

	linked, err := cat.HasForeignKey(ctx, owner.TableName, rel.ForeignKey, target.TableName)
	if err != nil {
		return err
	}
	if linked {
		r.logger.Info("relationship already exists",
			zap.String("owner", owner.Name), zap.String("target", target.Name),
			zap.String("column", rel.ForeignKey))
		return nil
	}

	ddl := r.statements.AddForeignKey(owner, target, rel)
	r.logger.Info("establishing relationship",
		zap.String("owner", owner.Name), zap.String("target", target.Name), zap.String("sql", ddl))

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to establish relationship %s -> %s: %w", owner.Name, target.Name, err)
	}
	return nil
}

// Detachment lists what a cascade delete removed. It is applied to the records
// and the identity cache only after the surrounding transaction commits.
type Detachment struct {
	deleted  []deletedRow
	inMemory []liveRecord
}

type deletedRow struct {
	meta *schema.EntityMetadata
	id   int64
}

type liveRecord struct {
	meta   *schema.EntityMetadata
	record any
}

// Count returns the number of rows removed
func (d *Detachment) Count() int {
	return len(d.deleted)
}

// Keys returns the identity keys of the removed rows, children first
func (d *Detachment) Keys() []identity.Key {
	keys := make([]identity.Key, len(d.deleted))
	for i, row := range d.deleted {
		keys[i] = identity.Key{Entity: row.meta.Name, ID: row.id}
	}
	return keys
}

// Apply nulls the identifier of every affected record reachable from the
// deleted graph or held by the cache, and evicts the removed keys.
func (d *Detachment) Apply(cache *identity.Cache) {
	removed := make(map[identity.Key]bool, len(d.deleted))
	for _, row := range d.deleted {
		removed[identity.Key{Entity: row.meta.Name, ID: row.id}] = true
		if cache == nil {
			continue
		}
		if live, ok := cache.Get(row.meta.Name, row.id); ok {
			row.meta.ID.Set(live, 0)
		}
		cache.Remove(row.meta.Name, row.id)
	}

	for _, live := range d.inMemory {
		if removed[identity.Key{Entity: live.meta.Name, ID: live.meta.IDOf(live.record)}] {
			live.meta.ID.Set(live.record, 0)
		}
	}
}

// CascadeDelete deletes the row of record and, depth first, every row reachable
// through OneToMany relations. Children are found both in the database (by
// foreign key) and in the record's in-memory collections.
func (r *Resolver) CascadeDelete(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, record any) (*Detachment, error) {
	d := &Detachment{}
	if err := r.collectLive(meta, record, d, map[identity.Key]bool{}); err != nil {
		return nil, err
	}
	if err := r.deleteTree(ctx, tx, meta, meta.IDOf(record), d, map[identity.Key]bool{}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Resolver) collectLive(meta *schema.EntityMetadata, record any, d *Detachment, seen map[identity.Key]bool) error {
	id := meta.IDOf(record)
	if id == 0 {
		return nil
	}
	key := identity.Key{Entity: meta.Name, ID: id}
	if seen[key] {
		return nil
	}
	seen[key] = true
	d.inMemory = append(d.inMemory, liveRecord{meta: meta, record: record})

	for _, rel := range meta.OneToMany() {
		child, _, err := r.ChildForeignKey(meta, rel)
		if err != nil {
			return err
		}
		for _, c := range rel.Children(record) {
			if err := r.collectLive(child, c, d, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) deleteTree(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, id int64, d *Detachment, seen map[identity.Key]bool) error {
	key := identity.Key{Entity: meta.Name, ID: id}
	if seen[key] {
		return nil
	}
	seen[key] = true

	for _, rel := range meta.OneToMany() {
		child, back, err := r.ChildForeignKey(meta, rel)
		if err != nil {
			return err
		}
		ids, err := r.childIDs(ctx, tx, child, back.ForeignKey, id)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			if err := r.deleteTree(ctx, tx, child, childID, d, seen); err != nil {
				return err
			}
		}
	}

	query := r.statements.DeleteByID(meta)
	r.logger.Debug("cascade delete", zap.String("entity", meta.Name), zap.Int64("id", id), zap.String("sql", query))
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", meta.Name, id, err)
	}
	d.deleted = append(d.deleted, deletedRow{meta: meta, id: id})
	return nil
}

func (r *Resolver) childIDs(ctx context.Context, tx transaction.Querier, child *schema.EntityMetadata, foreignKey string, parentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, r.statements.SelectIDsByForeignKey(child, foreignKey), parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s children: %w", child.Name, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s child id: %w", child.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertFunc inserts one record and assigns its generated identifier
type InsertFunc func(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, record any) error

// CascadeSave inserts every unsaved child of parent's OneToMany collections,
// pointing each child's back reference at parent first. Inserted children
// cascade to their own collections. It returns the inserted records, including
// those inserted before a failure.
func (r *Resolver) CascadeSave(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, parent any, insert InsertFunc) ([]SavedRecord, error) {
	if meta.IDOf(parent) == 0 {
		return nil, fmt.Errorf("cascade save of %s requires a saved parent", meta.Name)
	}

	var saved []SavedRecord
	for _, rel := range meta.OneToMany() {
		child, back, err := r.ChildForeignKey(meta, rel)
		if err != nil {
			return saved, err
		}
		for _, c := range rel.Children(parent) {
			if child.IDOf(c) != 0 {
				continue
			}
			back.SetReference(c, parent)
			if err := insert(ctx, tx, child, c); err != nil {
				return saved, fmt.Errorf("cascade save of %s.%s: %w", meta.Name, rel.FieldName, err)
			}
			saved = append(saved, SavedRecord{Meta: child, Record: c})

			nested, err := r.CascadeSave(ctx, tx, child, c, insert)
			saved = append(saved, nested...)
			if err != nil {
				return saved, err
			}
		}
	}
	return saved, nil
}

// SavedRecord is a record inserted by CascadeSave
type SavedRecord struct {
	Meta   *schema.EntityMetadata
	Record any
}
