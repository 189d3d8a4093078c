package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormanager/ormanager/internal/cli/ui"
	"github.com/ormanager/ormanager/internal/library"
	"github.com/ormanager/ormanager/pkg/orm/crud"
)

var demoInMemory bool

// NewDemoCommand creates the demo command
func NewDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the publisher and book walkthrough",
		Long: `Create the publisher and book tables if needed, then save, find, cascade
delete and stream records through the mapping engine, reporting each step.

Rows are written to the configured database unless --in-memory is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, demoInMemory)
			if err != nil {
				return err
			}
			defer s.Close()

			return runDemo(ctx, s.engine, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&demoInMemory, "in-memory", false, "Use a private in-memory SQLite database")

	return cmd
}

func runDemo(ctx context.Context, e *crud.Engine, out io.Writer) error {
	if err := e.Register(ctx, library.Entities()...); err != nil {
		return err
	}
	if err := e.CreateRelationships(ctx, library.Books.Name()); err != nil {
		return err
	}
	ui.WriteSuccess(out, "Tables publishers and books are in place", noColor)

	publishers, err := crud.NewRepository(e, library.Publishers)
	if err != nil {
		return err
	}
	books, err := crud.NewRepository(e, library.Books)
	if err != nil {
		return err
	}

	acme, err := publishers.Save(ctx, &library.Publisher{Name: "Acme"})
	if err != nil {
		return err
	}
	found, err := publishers.FindByID(ctx, acme.ID)
	if err != nil {
		return err
	}
	ui.WriteSuccess(out, fmt.Sprintf("Saved publisher #%d and found it again as %q", acme.ID, found.Name), noColor)

	if err := publishers.Persist(ctx, acme); !crud.IsIDAlreadySet(err) {
		return fmt.Errorf("persisting a saved publisher: expected %v, got %v", crud.ErrIDAlreadySet, err)
	}
	ui.WriteSuccess(out, "Persist refused a publisher that already has an identifier", noColor)

	linked, err := e.RelationshipExists(ctx, library.Books.Name(), library.Publishers.Name())
	if err != nil {
		return err
	}
	if !linked {
		return errors.New("books has no foreign key to publishers")
	}
	book, err := books.Save(ctx, &library.Book{
		Title:       "X",
		PublishedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Publisher:   acme,
	})
	if err != nil {
		return err
	}
	e.Cache().Clear()
	reloaded, err := books.FindByID(ctx, book.ID)
	if err != nil {
		return err
	}
	if reloaded.Publisher == nil || reloaded.Publisher.ID != acme.ID {
		return fmt.Errorf("book #%d does not reference publisher #%d", book.ID, acme.ID)
	}
	ui.WriteSuccess(out, fmt.Sprintf("Book #%d %q references publisher #%d", book.ID, book.Title, reloaded.Publisher.ID), noColor)

	orbit := &library.Publisher{Name: "Orbit"}
	for _, title := range []string{"Leviathan Wakes", "Caliban's War", "Abaddon's Gate"} {
		orbit.AddBook(&library.Book{Title: title})
	}
	if _, err := publishers.Save(ctx, orbit); err != nil {
		return err
	}
	bookIDs := make([]int64, 0, len(orbit.Books))
	for _, b := range orbit.Books {
		bookIDs = append(bookIDs, b.ID)
	}
	orbitID := orbit.ID

	if _, err := publishers.Delete(ctx, orbit); err != nil {
		return err
	}
	if orbit.ID != 0 {
		return fmt.Errorf("deleted publisher kept identifier %d", orbit.ID)
	}
	for i, id := range bookIDs {
		if orbit.Books[i].ID != 0 {
			return fmt.Errorf("deleted book kept identifier %d", orbit.Books[i].ID)
		}
		if _, err := books.FindByID(ctx, id); !crud.IsNotFound(err) {
			return fmt.Errorf("book #%d is still findable after cascade delete", id)
		}
	}
	ui.WriteSuccess(out, fmt.Sprintf("Deleted publisher #%d together with its %d books", orbitID, len(bookIDs)), noColor)

	for _, name := range []string{"Tor", "Gollancz", "Baen"} {
		if _, err := publishers.Save(ctx, &library.Publisher{Name: name}); err != nil {
			return err
		}
	}
	e.Cache().Clear()

	taken := 0
	for _, err := range publishers.FindAllAsStream(ctx) {
		if err != nil {
			return err
		}
		taken++
		if taken == 2 {
			break
		}
	}
	ui.WriteSuccess(out, fmt.Sprintf("Streamed %d publishers, %d loaded into the cache", taken, publishers.CacheCount()), noColor)

	return nil
}
