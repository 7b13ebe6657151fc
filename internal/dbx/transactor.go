package dbx

import (
	"context"
	"database/sql"
)

// Transactor hands out database handles to services so they do not need to
// know whether they talk to *sql.DB or to an in-memory store.
type Transactor interface {
	// Conn returns a non-transactional handle.
	Conn() DBTX
	// WithinTx runs fn inside a single transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLTransactor is a Transactor over *sql.DB.
type SQLTransactor struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewSQLTransactor(db *sql.DB, opts *sql.TxOptions) *SQLTransactor {
	return &SQLTransactor{db: db, opts: opts}
}

func (t *SQLTransactor) Conn() DBTX {
	return t.db
}

func (t *SQLTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, t.db, t.opts, fn)
}
