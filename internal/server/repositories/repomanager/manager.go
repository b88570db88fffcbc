package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/movies/internal/dbx"
	"github.com/dmitrijs2005/movies/internal/server/repositories/images"
	"github.com/dmitrijs2005/movies/internal/server/repositories/movies"
)

// RepositoryManager vends repositories bound to a dbx.DBTX so services can
// use the same code path with *sql.DB and inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Images(db dbx.DBTX) images.Repository
	Movies(db dbx.DBTX) movies.Repository
}
