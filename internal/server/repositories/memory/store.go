// Package memory implements every repository in process memory. It backs
// local runs without PostgreSQL and the service tests.
//
// All operations are serialized by one mutex; a transaction holds it for its
// whole duration and restores a snapshot when its function fails.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/models"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/users"
)

var errNoSQL = errors.New("memory store does not execute SQL")

// handle is the DBTX passed to transaction functions. It only marks the
// caller as already holding the store lock.
type handle struct{}

func (handle) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (handle) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (handle) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

var txHandle dbx.DBTX = handle{}

type data struct {
	users    map[string]models.User
	otps     []models.OtpVerification
	refresh  map[string]models.RefreshToken
	sessions map[string]models.LoginSession
}

func (d *data) clone() data {
	return data{
		users:    maps.Clone(d.users),
		otps:     slices.Clone(d.otps),
		refresh:  maps.Clone(d.refresh),
		sessions: maps.Clone(d.sessions),
	}
}

// Store implements repomanager.RepositoryManager and dbx.Transactor.
type Store struct {
	mu sync.Mutex
	d  data
}

func NewStore() *Store {
	return &Store{d: data{
		users:    make(map[string]models.User),
		refresh:  make(map[string]models.RefreshToken),
		sessions: make(map[string]models.LoginSession),
	}}
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

// Conn returns nil: repositories built from it lock per call.
func (s *Store) Conn() dbx.DBTX {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snapshot
			panic(p)
		}
		if err != nil {
			s.d = snapshot
		}
	}()

	return fn(ctx, txHandle)
}

// run executes fn under the store lock unless db says the caller already
// holds it.
func (s *Store) run(db dbx.DBTX, fn func(d *data) error) error {
	if db != txHandle {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(&s.d)
}

func (s *Store) Users(db dbx.DBTX) users.Repository {
	return &userRepo{s: s, db: db}
}

func (s *Store) Otps(db dbx.DBTX) otps.Repository {
	return &otpRepo{s: s, db: db}
}

func (s *Store) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &refreshRepo{s: s, db: db}
}

func (s *Store) Sessions(db dbx.DBTX) sessions.Repository {
	return &sessionRepo{s: s, db: db}
}
