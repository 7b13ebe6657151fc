package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/config"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/waterauth/internal/server/retention"
)

// Storage is the transactor and repository manager pair the services run on.
type Storage struct {
	Tx           dbx.Transactor
	Repositories repomanager.RepositoryManager
	db           *sql.DB
}

// OpenStorage connects to PostgreSQL and applies migrations, or falls back
// to the in-memory store when no DSN is configured.
func OpenStorage(ctx context.Context, c *config.Config, logger logging.Logger) (*Storage, error) {
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "No database DSN configured, using in-memory storage")
		m := memory.NewStore()
		return &Storage{Tx: m, Repositories: m}, nil
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Storage{Tx: dbx.NewSQLTransactor(db, nil), Repositories: rm, db: db}, nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewArchiver returns an S3 archiver when credentials are configured and
// nil otherwise.
func NewArchiver(ctx context.Context, c *config.Config) (retention.Archiver, error) {
	if c.S3.AccessKey == "" {
		return nil, nil
	}
	a, err := retention.NewS3Archiver(ctx, c.S3)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// closeAll closes every closer and joins the errors.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
