// Package library holds the sample entities used by the CLI demo and the
// engine's integration tests: publishers and the books they publish.
package library

import (
	"time"

	"github.com/ormanager/ormanager/pkg/orm/schema"
)

// Publisher publishes books
type Publisher struct {
	ID    int64
	Name  string
	Books []*Book
}

// Book is published by at most one publisher
type Book struct {
	ID          int64
	Title       string
	PublishedAt time.Time
	Publisher   *Publisher
}

// Publishers describes the publishers table
var Publishers = schema.Define("Publisher", "publishers", func(b *schema.Builder[Publisher]) {
	b.ID(func(p *Publisher) *int64 { return &p.ID })
	b.String("Name", func(p *Publisher) *string { return &p.Name })
	schema.OneToMany(b, "Books", "Book", "Publisher", func(p *Publisher) *[]*Book { return &p.Books })
})

// Books describes the books table
var Books = schema.Define("Book", "books", func(b *schema.Builder[Book]) {
	b.ID(func(bk *Book) *int64 { return &bk.ID })
	b.String("Title", func(bk *Book) *string { return &bk.Title })
	b.Date("PublishedAt", func(bk *Book) *time.Time { return &bk.PublishedAt }, schema.Named("published_at"))
	schema.ManyToOne(b, "Publisher", "Publisher", "publisher_id", func(bk *Book) **Publisher { return &bk.Publisher })
})

// Entities returns the descriptors in creation order: referenced tables first
func Entities() []schema.Definition {
	return []schema.Definition{Publishers, Books}
}

// NewRegistry returns a registry holding the library entities
func NewRegistry() *schema.Registry {
	return schema.MustRegistry(Entities()...)
}

// AddBook appends a book to the publisher and points the book back at it
func (p *Publisher) AddBook(b *Book) {
	b.Publisher = p
	p.Books = append(p.Books, b)
}
