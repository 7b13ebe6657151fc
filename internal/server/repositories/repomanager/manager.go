package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/waterauth/internal/dbx"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/otps"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a database handle, so a
// service can run several of them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Otps(db dbx.DBTX) otps.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
