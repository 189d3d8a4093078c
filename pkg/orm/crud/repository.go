package crud

import (
	"context"
	"iter"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// Repository is the typed entry point of the engine for entity type T
type Repository[T any] struct {
	engine *Engine
	meta   *schema.EntityMetadata
}

// NewRepository returns the repository of a descriptor, registering the
// descriptor with the engine's registry if needed. Tables are not created;
// see Engine.Register.
func NewRepository[T any](e *Engine, desc *schema.Descriptor[T]) (*Repository[T], error) {
	if !e.registry.Exists(desc.Name()) {
		if err := e.registry.Register(desc); err != nil {
			return nil, err
		}
	}
	meta, err := e.registry.Resolve(desc.Name())
	if err != nil {
		return nil, err
	}
	return &Repository[T]{engine: e, meta: meta}, nil
}

// MustRepository is like NewRepository but panics on error
func MustRepository[T any](e *Engine, desc *schema.Descriptor[T]) *Repository[T] {
	r, err := NewRepository(e, desc)
	if err != nil {
		panic(err)
	}
	return r
}

// Metadata returns the entity metadata
func (r *Repository[T]) Metadata() *schema.EntityMetadata {
	return r.meta
}

// Persist inserts a transient record and assigns its generated identifier.
// It fails with ErrIDAlreadySet when the identifier is already set. The
// record is not added to the identity cache.
func (r *Repository[T]) Persist(ctx context.Context, record *T) error {
	return r.engine.persist(ctx, r.meta, record)
}

// Save inserts the record, or updates it when its identifier matches an
// existing row, and returns it. New children in OneToMany collections are
// inserted with it. ManyToOne references must already be saved.
func (r *Repository[T]) Save(ctx context.Context, record *T) (*T, error) {
	if err := r.engine.save(ctx, r.meta, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Merge updates a persisted record by identifier and inserts its new
// children. It reports whether exactly one row was updated.
func (r *Repository[T]) Merge(ctx context.Context, record *T) (bool, error) {
	return r.engine.merge(ctx, r.meta, record)
}

// Delete removes a persisted record together with its OneToMany children,
// recursively. The identifiers of every removed record are zeroed.
func (r *Repository[T]) Delete(ctx context.Context, record *T) (bool, error) {
	return r.engine.delete(ctx, r.meta, record)
}

// Update reloads a persisted record from the database. Despite its name it
// writes nothing; a transient or missing record is returned unchanged.
func (r *Repository[T]) Update(ctx context.Context, record *T) (*T, error) {
	rec, err := r.engine.reload(ctx, r.meta, record)
	if err != nil {
		return nil, err
	}
	return rec.(*T), nil
}

// Exists reports whether the record's identifier matches a row
func (r *Repository[T]) Exists(ctx context.Context, record *T) (bool, error) {
	return r.engine.exists(ctx, r.meta, r.meta.IDOf(record))
}

// FindByID loads a record by identifier. It returns ErrNotFound when no row matches.
func (r *Repository[T]) FindByID(ctx context.Context, id int64) (*T, error) {
	rec, err := r.engine.findByID(ctx, r.meta, id, false)
	if err != nil {
		return nil, err
	}
	return rec.(*T), nil
}

// FindAll loads every record ordered by identifier
func (r *Repository[T]) FindAll(ctx context.Context) ([]*T, error) {
	recs, err := r.engine.findAll(ctx, r.meta)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(recs))
	for i, rec := range recs {
		out[i] = rec.(*T)
	}
	return out, nil
}

// FindAllAsIterable opens a cursor over every record ordered by identifier.
// The caller must exhaust or close it.
func (r *Repository[T]) FindAllAsIterable(ctx context.Context) (*Cursor[T], error) {
	return openCursor[T](ctx, r.engine, r.meta)
}

// FindAllAsStream returns a lazy sequence over every record ordered by
// identifier. The query starts when iteration starts and its cursor is
// released on exhaustion or when the loop stops early. The sequence is
// single-pass: ranging over it again yields ErrCursorClosed.
func (r *Repository[T]) FindAllAsStream(ctx context.Context) iter.Seq2[*T, error] {
	started := false
	return func(yield func(*T, error) bool) {
		if started {
			yield(nil, ErrCursorClosed)
			return
		}
		started = true

		c, err := openCursor[T](ctx, r.engine, r.meta)
		if err != nil {
			yield(nil, err)
			return
		}
		defer c.Close()

		for rec, err := range c.All() {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Evict removes the record from the identity cache
func (r *Repository[T]) Evict(record *T) bool {
	return r.engine.cache.Remove(r.meta.Name, r.meta.IDOf(record))
}

// Cached returns the cached instance for an identifier
func (r *Repository[T]) Cached(id int64) (*T, bool) {
	rec, ok := r.engine.cache.Get(r.meta.Name, id)
	if !ok {
		return nil, false
	}
	return rec.(*T), true
}

// CacheCount returns the number of cached records of the entity
func (r *Repository[T]) CacheCount() int {
	return r.engine.cache.Count(r.meta.Name)
}
