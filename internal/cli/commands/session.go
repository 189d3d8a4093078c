package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/ormanager/ormanager/internal/cli/ui"
	"github.com/ormanager/ormanager/internal/config"
	"github.com/ormanager/ormanager/internal/library"
	"github.com/ormanager/ormanager/internal/logging"
	"github.com/ormanager/ormanager/pkg/orm/crud"
	"github.com/ormanager/ormanager/pkg/orm/schema"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "github.com/lib/pq"              // PostgreSQL driver ("postgres")
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// inMemoryURL is an SQLite database private to one connection
const inMemoryURL = "file::memory:?_foreign_keys=on"

// displayError carries a message already formatted for the terminal
type displayError struct {
	message string
	err     error
}

func (e *displayError) Error() string {
	return e.message
}

func (e *displayError) Unwrap() error {
	return e.err
}

// session is an engine opened from the configuration together with its logger
type session struct {
	cfg    *config.Config
	engine *crud.Engine
	logger *zap.Logger
}

// openSession loads the configuration and connects to the database. With
// inMemory set, the configured database is replaced by a private in-memory
// SQLite database.
func openSession(ctx context.Context, inMemory bool) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &displayError{message: ui.ConfigError(err.Error(), noColor), err: err}
	}
	if inMemory {
		cfg.Database = config.DatabaseConfig{URL: inMemoryURL, Driver: "sqlite3"}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	dialect, err := cfg.Database.SQLDialect()
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, err
	}

	engine, err := crud.Open(ctx, cfg.Database.Driver, dsn, library.NewRegistry(),
		crud.WithDialect(dialect),
		crud.WithLogger(logger),
		crud.WithCacheCapacity(cfg.Cache.Capacity),
	)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	if inMemory {
		engine.DB().SetMaxOpenConns(1)
	}

	logger.Debug("connected",
		zap.String("driver", cfg.Database.Driver),
		zap.String("dialect", dialect.Name()))

	return &session{cfg: cfg, engine: engine, logger: logger}, nil
}

// Close releases the connection and flushes the logger
func (s *session) Close() error {
	err := s.engine.Close()
	s.logger.Sync()
	return err
}

// entities resolves entity names against the library registry, keeping
// creation order. No names selects every entity.
func (s *session) entities(names []string) ([]schema.Definition, error) {
	all := library.Entities()
	if len(names) == 0 {
		return all, nil
	}

	registered := s.engine.Registry().List()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if !s.engine.Registry().Exists(name) {
			return nil, &displayError{message: ui.UnknownEntityError(name, registered, noColor), err: schema.ErrUnknownEntity}
		}
		wanted[name] = true
	}

	var out []schema.Definition
	for _, def := range all {
		if wanted[def.Name()] {
			out = append(out, def)
		}
	}
	return out, nil
}
