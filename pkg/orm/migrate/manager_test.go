package migrate

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormanager/ormanager/pkg/orm/codegen"
	"github.com/ormanager/ormanager/pkg/orm/relationships"
	"github.com/ormanager/ormanager/pkg/orm/schema"
)

type author struct {
	ID    int64
	Name  string
	Posts []*post
}

type post struct {
	ID     int64
	Title  string
	Author *author
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()

	authors := schema.Define("Author", "authors", func(b *schema.Builder[author]) {
		b.ID(func(a *author) *int64 { return &a.ID })
		b.String("Name", func(a *author) *string { return &a.Name })
		schema.OneToMany(b, "Posts", "Post", "Author", func(a *author) *[]*post { return &a.Posts })
	})
	posts := schema.Define("Post", "posts", func(b *schema.Builder[post]) {
		b.ID(func(p *post) *int64 { return &p.ID })
		b.String("Title", func(p *post) *string { return &p.Title })
		schema.ManyToOne(b, "Author", "Author", "", func(p *post) **author { return &p.Author })
	})
	return schema.MustRegistry(authors, posts)
}

func newManager(db *sql.DB, dialect codegen.Dialect, reg *schema.Registry) *Manager {
	stmts := codegen.NewStatementBuilder(dialect)
	return NewManager(db, reg, stmts, relationships.NewResolver(reg, stmts, nil), nil)
}

func TestEnsureTable_MySQLStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.TableExistsQuery())).
		WithArgs("authors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(
		"CREATE TABLE IF NOT EXISTS authors (id BIGINT UNSIGNED AUTO_INCREMENT, name VARCHAR(255), PRIMARY KEY(id))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(codegen.MySQL.TableExistsQuery())).
		WithArgs("authors").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	m := newManager(db, codegen.MySQL, testRegistry(t))

	created, err := m.EnsureTable(context.Background(), "Author")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureTable(context.Background(), "Author")
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTable_UnknownEntity(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = newManager(db, codegen.MySQL, testRegistry(t)).EnsureTable(context.Background(), "Comment")
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
}

func TestManager_SQLiteLifecycle(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	m := newManager(db, codegen.SQLite, testRegistry(t))

	// Post cannot reference authors before the table exists.
	_, err = m.EnsureTable(ctx, "Post")
	require.NoError(t, err)
	err = m.EnsureRelationships(ctx, "Post")
	assert.True(t, relationships.IsMissingRelatedEntity(err))

	_, err = m.EnsureTable(ctx, "Author")
	require.NoError(t, err)
	require.NoError(t, m.EnsureRelationships(ctx, "Author", "Post"))
	require.NoError(t, m.EnsureRelationships(ctx, "Post"))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)

	assert.Equal(t, "Author", status[0].Entity)
	assert.True(t, status[0].Exists)
	assert.Empty(t, status[0].Relations)

	assert.Equal(t, "Post", status[1].Entity)
	require.Len(t, status[1].Relations, 1)
	assert.Equal(t, RelationStatus{Field: "Author", Target: "Author", ForeignKey: "author_id", Established: true}, status[1].Relations[0])

	require.NoError(t, m.DropTable(ctx, "Post"))
	require.NoError(t, m.DropTable(ctx, "Post"))

	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[1].Exists)
	assert.False(t, status[1].Relations[0].Established)
}
