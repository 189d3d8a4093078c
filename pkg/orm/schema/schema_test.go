package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPublisher struct {
	ID    int64
	Name  string
	Books []*testBook
}

type testBook struct {
	ID          int64
	Title       string
	PublishedAt time.Time
	Publisher   *testPublisher
}

func publisherDescriptor() *Descriptor[testPublisher] {
	return Define("Publisher", "publishers", func(b *Builder[testPublisher]) {
		b.ID(func(p *testPublisher) *int64 { return &p.ID }).
			String("Name", func(p *testPublisher) *string { return &p.Name })
		OneToMany(b, "Books", "Book", "Publisher", func(p *testPublisher) *[]*testBook { return &p.Books })
	})
}

func bookDescriptor() *Descriptor[testBook] {
	return Define("Book", "books", func(b *Builder[testBook]) {
		b.ID(func(bk *testBook) *int64 { return &bk.ID }).
			String("Title", func(bk *testBook) *string { return &bk.Title }).
			Date("PublishedAt", func(bk *testBook) *time.Time { return &bk.PublishedAt })
		ManyToOne(b, "Publisher", "Publisher", "", func(bk *testBook) **testPublisher { return &bk.Publisher })
	})
}

func TestDescriptor_Metadata(t *testing.T) {
	meta, err := bookDescriptor().Metadata()
	require.NoError(t, err)

	assert.Equal(t, "Book", meta.Name)
	assert.Equal(t, "books", meta.TableName)
	assert.Equal(t, "id", meta.ID.Name)
	require.Len(t, meta.Columns, 2)
	assert.Equal(t, "title", meta.Columns[0].Name)
	assert.Equal(t, "published_at", meta.Columns[1].Name)
	assert.Equal(t, TypeDate, meta.Columns[1].Type)

	rels := meta.ManyToOne()
	require.Len(t, rels, 1)
	assert.Equal(t, "publisher_id", rels[0].ForeignKey)
	assert.Equal(t, "Publisher", rels[0].Target)
	assert.True(t, meta.HasRelationships())
	assert.Equal(t, []string{"title", "published_at", "publisher_id"}, meta.WriteColumns())
}

func TestDescriptor_MetadataIsComputedOnce(t *testing.T) {
	calls := 0
	d := Define("Counter", "counters", func(b *Builder[testPublisher]) {
		calls++
		b.ID(func(p *testPublisher) *int64 { return &p.ID })
	})

	first, err := d.Metadata()
	require.NoError(t, err)
	second, err := d.Metadata()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDescriptor_Accessors(t *testing.T) {
	meta, err := bookDescriptor().Metadata()
	require.NoError(t, err)

	pub := &testPublisher{ID: 7, Name: "Acme"}
	rec := meta.New()
	book, ok := rec.(*testBook)
	require.True(t, ok)

	meta.ID.Set(book, 3)
	assert.Equal(t, int64(3), meta.IDOf(book))

	title, _ := meta.Column("title")
	require.NoError(t, title.Set(book, "Go"))
	assert.Equal(t, "Go", title.Get(book))
	assert.Error(t, title.Set(book, 42))

	rel := meta.ManyToOne()[0]
	assert.Nil(t, rel.Reference(book))
	rel.SetReference(book, pub)
	assert.Same(t, pub, rel.Reference(book))
	rel.SetReference(book, nil)
	assert.Nil(t, book.Publisher)
}

func TestDescriptor_OneToManyChildrenSkipNil(t *testing.T) {
	meta, err := publisherDescriptor().Metadata()
	require.NoError(t, err)

	pub := &testPublisher{Books: []*testBook{{Title: "a"}, nil, {Title: "b"}}}
	rel, ok := meta.Relation("Books")
	require.True(t, ok)
	assert.Len(t, rel.Children(pub), 2)
	assert.Empty(t, meta.ManyToOne())
}

func TestDescriptor_Validation(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := Define("NoID", "no_ids", func(b *Builder[testPublisher]) {
			b.String("Name", func(p *testPublisher) *string { return &p.Name })
		}).Metadata()
		assert.ErrorIs(t, err, ErrMissingID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := Define("TwoIDs", "two_ids", func(b *Builder[testPublisher]) {
			b.ID(func(p *testPublisher) *int64 { return &p.ID })
			b.ID(func(p *testPublisher) *int64 { return &p.ID })
		}).Metadata()
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("duplicate column", func(t *testing.T) {
		_, err := Define("Dup", "dups", func(b *Builder[testPublisher]) {
			b.ID(func(p *testPublisher) *int64 { return &p.ID }).
				String("Name", func(p *testPublisher) *string { return &p.Name }).
				String("Other", func(p *testPublisher) *string { return &p.Name }, Named("name"))
		}).Metadata()
		assert.ErrorIs(t, err, ErrDuplicateColumn)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := Define("Doc", "docs", func(b *Builder[testPublisher]) {
			b.ID(func(p *testPublisher) *int64 { return &p.ID })
			Field(b, "Payload", TypeJSON, func(p *testPublisher) *string { return &p.Name })
		}).Metadata()
		require.Error(t, err)
		assert.True(t, IsUnsupportedFieldType(err))
		assert.Contains(t, err.Error(), "Doc.Payload")
	})

	t.Run("invalid table name", func(t *testing.T) {
		_, err := Define("Bad", "bad table; drop", func(b *Builder[testPublisher]) {
			b.ID(func(p *testPublisher) *int64 { return &p.ID })
		}).Metadata()
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}

func TestSQLTypeFor(t *testing.T) {
	tests := []struct {
		typ      PrimitiveType
		expected string
	}{
		{TypeString, "VARCHAR(255)"},
		{TypeInt, "INT"},
		{TypeLong, "BIGINT"},
		{TypeDouble, "DOUBLE"},
		{TypeDecimal, "DECIMAL(19,4)"},
		{TypeBool, "BOOLEAN"},
		{TypeDate, "DATE"},
		{TypeTime, "DATETIME"},
		{TypeDateTime, "DATETIME"},
		{TypeUUID, "UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			got, err := SQLTypeFor(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := SQLTypeFor(TypeEnum)
	assert.True(t, IsUnsupportedFieldType(err))
}

func TestParsePrimitiveType(t *testing.T) {
	typ, err := ParsePrimitiveType("Integer")
	require.NoError(t, err)
	assert.Equal(t, TypeInt, typ)

	_, err = ParsePrimitiveType("char")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(publisherDescriptor(), bookDescriptor())
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"Book", "Publisher"}, reg.List())
	assert.True(t, reg.Exists("Book"))

	meta, err := reg.Resolve("Publisher")
	require.NoError(t, err)
	assert.Equal(t, "publishers", meta.TableName)

	_, err = reg.Resolve("Author")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	err = reg.Register(bookDescriptor())
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestDefine_DefaultTableName(t *testing.T) {
	d := Define("BookReview", "", func(b *Builder[testPublisher]) {
		b.ID(func(p *testPublisher) *int64 { return &p.ID })
		b.UUID("Ref", func(*testPublisher) *uuid.UUID { return new(uuid.UUID) })
	})
	assert.Equal(t, "book_review", d.Table())
}
