package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/movies/internal/dbx"
	"github.com/dmitrijs2005/movies/internal/server/repositories/images"
	"github.com/dmitrijs2005/movies/internal/server/repositories/movies"
)

// InMemoryRepositoryManager serves single-node deployments and local runs
// without PostgreSQL. The db argument of the factories is ignored; every
// call returns the same shared store.
type InMemoryRepositoryManager struct {
	images *images.MemoryRepository
	movies *movies.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		images: images.NewMemoryRepository(),
		movies: movies.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Images(db dbx.DBTX) images.Repository {
	return m.images
}

func (m *InMemoryRepositoryManager) Movies(db dbx.DBTX) movies.Repository {
	return m.movies
}
