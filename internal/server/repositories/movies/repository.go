package movies

import (
	"context"

	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

// Repository owns the movies the images belong to. The image lifecycle only
// needs ExistsByID; the rest exists so the foreign key has an owner.
type Repository interface {
	Create(ctx context.Context, movie *models.Movie) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Movie, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteMany(ctx context.Context, ids []uuid.UUID) error
}
