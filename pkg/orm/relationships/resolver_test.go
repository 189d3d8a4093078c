package relationships

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/identity"
	"github.com/ormanager/ormanager/pkg/orm/schema"
	"github.com/ormanager/ormanager/pkg/orm/transaction"
)

type publisher struct {
	ID    int64
	Name  string
	Books []*book
}

type book struct {
	ID        int64
	Title     string
	Publisher *publisher
}

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	publishers := schema.Define("Publisher", "publishers", func(b *schema.Builder[publisher]) {
		b.ID(func(p *publisher) *int64 { return &p.ID })
		b.String("Name", func(p *publisher) *string { return &p.Name })
		schema.OneToMany(b, "Books", "Book", "Publisher", func(p *publisher) *[]*book { return &p.Books })
	})
	books := schema.Define("Book", "books", func(b *schema.Builder[book]) {
		b.ID(func(bk *book) *int64 { return &bk.ID })
		b.String("Title", func(bk *book) *string { return &bk.Title })
		schema.ManyToOne(b, "Publisher", "Publisher", "", func(bk *book) **publisher { return &bk.Publisher })
	})

	reg, err := schema.NewRegistry(publishers, books)
	require.NoError(t, err)
	return reg
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTables(t *testing.T, db *sql.DB, stmts *codegen.StatementBuilder, reg *schema.Registry, names ...string) {
	t.Helper()

	for _, name := range names {
		meta, err := reg.Resolve(name)
		require.NoError(t, err)
		ddl, err := stmts.CreateTable(meta)
		require.NoError(t, err)
		_, err = db.Exec(ddl)
		require.NoError(t, err)
	}
}

func TestChildForeignKey(t *testing.T) {
	reg := newRegistry(t)
	r := NewResolver(reg, codegen.NewStatementBuilder(codegen.SQLite), nil)

	pub, err := reg.Resolve("Publisher")
	require.NoError(t, err)

	child, back, err := r.ChildForeignKey(pub, pub.OneToMany()[0])
	require.NoError(t, err)
	assert.Equal(t, "Book", child.Name)
	assert.Equal(t, "publisher_id", back.ForeignKey)

	_, _, err = r.ChildForeignKey(pub, schema.Relation{Kind: schema.RelationManyToOne, FieldName: "X"})
	assert.ErrorIs(t, err, ErrUnknownRelationship)

	_, _, err = r.ChildForeignKey(pub, schema.Relation{Kind: schema.RelationOneToMany, Target: "Book", MappedBy: "Owner"})
	assert.ErrorIs(t, err, ErrNoMappedBy)
}

func TestEstablish_SQLite(t *testing.T) {
	db := openSQLite(t)
	reg := newRegistry(t)
	stmts := codegen.NewStatementBuilder(codegen.SQLite)
	r := NewResolver(reg, stmts, nil)
	ctx := context.Background()

	createTables(t, db, stmts, reg, "Book")

	err := r.Establish(ctx, db, "Book", "Publisher")
	require.Error(t, err)
	assert.True(t, IsMissingRelatedEntity(err))

	var missing *MissingRelatedEntityError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "Book", missing.Owner)
	assert.Equal(t, "Publisher", missing.Entity)

	createTables(t, db, stmts, reg, "Publisher")
	require.NoError(t, r.Establish(ctx, db, "Book", "Publisher"))

	// A second call must not add the column again.
	require.NoError(t, r.Establish(ctx, db, "Book", "Publisher"))

	owner, _ := reg.Resolve("Book")
	target, _ := reg.Resolve("Publisher")
	ok, err := r.Exists(ctx, db, owner, target)
	require.NoError(t, err)
	assert.True(t, ok)

	err = r.Establish(ctx, db, "Publisher", "Book")
	assert.ErrorIs(t, err, ErrUnknownRelationship)
}

func TestEstablish_MySQLStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := newRegistry(t)
	r := NewResolver(reg, codegen.NewStatementBuilder(codegen.MySQL), nil)

	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.TableExistsQuery())).
		WithArgs("publishers").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.ForeignKeysQuery())).
		WithArgs("books").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME"}))
	mock.ExpectExec(regexp.QuoteMeta(
		"ALTER TABLE books ADD COLUMN publisher_id BIGINT UNSIGNED, " +
			"ADD FOREIGN KEY (publisher_id) REFERENCES publishers(id) ON DELETE CASCADE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.Establish(context.Background(), db, "Book", "Publisher"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type person struct {
	ID   int64
	Name string
}

type doc struct {
	ID     int64
	Title  string
	Author *person
	Editor *person
}

func TestEstablish_TwoForeignKeysToOneTarget(t *testing.T) {
	people := schema.Define("Person", "people", func(b *schema.Builder[person]) {
		b.ID(func(p *person) *int64 { return &p.ID })
		b.String("Name", func(p *person) *string { return &p.Name })
	})
	docs := schema.Define("Doc", "docs", func(b *schema.Builder[doc]) {
		b.ID(func(d *doc) *int64 { return &d.ID })
		b.String("Title", func(d *doc) *string { return &d.Title })
		schema.ManyToOne(b, "Author", "Person", "author_id", func(d *doc) **person { return &d.Author })
		schema.ManyToOne(b, "Editor", "Person", "editor_id", func(d *doc) **person { return &d.Editor })
	})
	reg, err := schema.NewRegistry(people, docs)
	require.NoError(t, err)

	db := openSQLite(t)
	stmts := codegen.NewStatementBuilder(codegen.SQLite)
	r := NewResolver(reg, stmts, nil)
	ctx := context.Background()

	createTables(t, db, stmts, reg, "Person", "Doc")
	require.NoError(t, r.Establish(ctx, db, "Doc", "Person"))
	require.NoError(t, r.Establish(ctx, db, "Doc", "Person"))

	_, err = db.Exec("INSERT INTO people (id, name) VALUES (1, 'Ann'), (2, 'Bob')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO docs (id, title, author_id, editor_id) VALUES (1, 'Draft', 1, 2)")
	require.NoError(t, err)

	var author, editor int64
	require.NoError(t, db.QueryRow("SELECT author_id, editor_id FROM docs WHERE id = 1").Scan(&author, &editor))
	assert.Equal(t, int64(1), author)
	assert.Equal(t, int64(2), editor)
}

func TestEstablish_MySQLAddsSecondColumnToSameTarget(t *testing.T) {
	people := schema.Define("Person", "people", func(b *schema.Builder[person]) {
		b.ID(func(p *person) *int64 { return &p.ID })
	})
	docs := schema.Define("Doc", "docs", func(b *schema.Builder[doc]) {
		b.ID(func(d *doc) *int64 { return &d.ID })
		schema.ManyToOne(b, "Author", "Person", "author_id", func(d *doc) **person { return &d.Author })
		schema.ManyToOne(b, "Editor", "Person", "editor_id", func(d *doc) **person { return &d.Editor })
	})
	reg, err := schema.NewRegistry(people, docs)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewResolver(reg, codegen.NewStatementBuilder(codegen.MySQL), nil)

	existing := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME"}).AddRow("author_id", "people")
	}
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.TableExistsQuery())).
		WithArgs("people").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.ForeignKeysQuery())).
		WithArgs("docs").
		WillReturnRows(existing())
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.TableExistsQuery())).
		WithArgs("people").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.ForeignKeysQuery())).
		WithArgs("docs").
		WillReturnRows(existing())
	mock.ExpectExec(regexp.QuoteMeta(
		"ALTER TABLE docs ADD COLUMN editor_id BIGINT UNSIGNED, " +
			"ADD FOREIGN KEY (editor_id) REFERENCES people(id) ON DELETE CASCADE")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.Establish(context.Background(), db, "Doc", "Person"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCascadeDelete_SQLite(t *testing.T) {
	db := openSQLite(t)
	reg := newRegistry(t)
	stmts := codegen.NewStatementBuilder(codegen.SQLite)
	r := NewResolver(reg, stmts, nil)
	ctx := context.Background()

	createTables(t, db, stmts, reg, "Publisher", "Book")
	require.NoError(t, r.Establish(ctx, db, "Book", "Publisher"))

	_, err := db.Exec("INSERT INTO publishers (id, name) VALUES (1, 'Orbit')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO books (id, title, publisher_id) VALUES (10, 'A', 1), (11, 'B', 1), (12, 'C', NULL)")
	require.NoError(t, err)

	pub := &publisher{ID: 1, Name: "Orbit"}
	inMemory := &book{ID: 10, Title: "A", Publisher: pub}
	pub.Books = []*book{inMemory}

	cached := &book{ID: 11, Title: "B"}
	cache := identity.New(10)
	cache.Put("Book", 11, cached)
	cache.Put("Publisher", 1, pub)

	meta, err := reg.Resolve("Publisher")
	require.NoError(t, err)

	var detached *Detachment
	err = transaction.NewManager(db).WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		detached, err = r.CascadeDelete(ctx, tx, meta, pub)
		return err
	})
	require.NoError(t, err)

	// Nothing is nulled before Apply.
	assert.Equal(t, int64(1), pub.ID)
	assert.Equal(t, 3, detached.Count())
	assert.Equal(t, []identity.Key{
		{Entity: "Book", ID: 10},
		{Entity: "Book", ID: 11},
		{Entity: "Publisher", ID: 1},
	}, detached.Keys())

	detached.Apply(cache)

	assert.Zero(t, pub.ID)
	assert.Zero(t, inMemory.ID)
	assert.Zero(t, cached.ID)
	assert.Zero(t, cache.Count("Book"))
	assert.Zero(t, cache.Count("Publisher"))

	var remaining int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM books").Scan(&remaining))
	assert.Equal(t, 1, remaining)
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM publishers").Scan(&remaining))
	assert.Zero(t, remaining)
}

func TestCascadeDelete_FailureKeepsIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reg := newRegistry(t)
	r := NewResolver(reg, codegen.NewStatementBuilder(codegen.MySQL), nil)
	meta, _ := reg.Resolve("Publisher")

	boom := errors.New("lock wait timeout")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM books WHERE publisher_id = ?")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM books WHERE id = ?")).
		WithArgs(int64(10)).
		WillReturnError(boom)
	mock.ExpectRollback()

	pub := &publisher{ID: 1}
	child := &book{ID: 10, Publisher: pub}
	pub.Books = []*book{child}

	err = transaction.NewManager(db).WithTransaction(context.Background(), func(tx *sql.Tx) error {
		_, err := r.CascadeDelete(context.Background(), tx, meta, pub)
		return err
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), pub.ID)
	assert.Equal(t, int64(10), child.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCascadeSave_SQLite(t *testing.T) {
	db := openSQLite(t)
	reg := newRegistry(t)
	stmts := codegen.NewStatementBuilder(codegen.SQLite)
	r := NewResolver(reg, stmts, nil)
	ctx := context.Background()

	createTables(t, db, stmts, reg, "Publisher", "Book")
	require.NoError(t, r.Establish(ctx, db, "Book", "Publisher"))

	_, err := db.Exec("INSERT INTO publishers (id, name) VALUES (1, 'Orbit')")
	require.NoError(t, err)

	existing := &book{ID: 99, Title: "kept"}
	pub := &publisher{ID: 1, Name: "Orbit"}
	pub.Books = []*book{{Title: "A"}, existing, {Title: "B"}}

	var inserted []string
	insert := func(ctx context.Context, tx transaction.Querier, meta *schema.EntityMetadata, record any) error {
		bk := record.(*book)
		res, err := tx.ExecContext(ctx, "INSERT INTO books (title, publisher_id) VALUES (?, ?)", bk.Title, bk.Publisher.ID)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		meta.ID.Set(record, id)
		inserted = append(inserted, bk.Title)
		return nil
	}

	meta, _ := reg.Resolve("Publisher")
	saved, err := r.CascadeSave(ctx, db, meta, pub, insert)
	require.NoError(t, err)

	assert.Len(t, saved, 2)
	assert.Equal(t, []string{"A", "B"}, inserted)
	for _, bk := range pub.Books {
		assert.NotZero(t, bk.ID)
	}
	assert.Same(t, pub, pub.Books[0].Publisher)
	assert.Nil(t, existing.Publisher)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM books WHERE publisher_id = 1").Scan(&n))
	assert.Equal(t, 2, n)

	_, err = r.CascadeSave(ctx, db, meta, &publisher{}, insert)
	assert.Error(t, err)
}
