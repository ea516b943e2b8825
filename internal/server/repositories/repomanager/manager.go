package repomanager

import (
	"context"
	"database/sql"

	"github.com/Anthony-Michael/replyrocket-auth/internal/dbx"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/refreshtokens"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code runs
// against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
