// Package images stores movie image records. Implementations must keep at
// most one primary image per movie and make the bulk operations
// all-or-nothing.
package images

import (
	"context"

	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

// LockedFunc runs while the rows passed in locked are held exclusively.
// repo is bound to the same unit of work; changes made through it are
// committed when the function returns nil and discarded otherwise.
type LockedFunc func(ctx context.Context, locked []*models.MovieImage, repo Repository) error

type Repository interface {
	Create(ctx context.Context, img *models.MovieImage) error
	CreateMany(ctx context.Context, imgs []*models.MovieImage) error

	// GetByID returns common.ErrNotFound when the image does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.MovieImage, error)
	// GetByMovieID orders the primary image first, then by creation time.
	GetByMovieID(ctx context.Context, movieID uuid.UUID) ([]*models.MovieImage, error)
	GetAll(ctx context.Context) ([]*models.MovieImage, error)
	// GetPrimary returns common.ErrNotFound when the movie has no primary image.
	GetPrimary(ctx context.Context, movieID uuid.UUID) (*models.MovieImage, error)

	// Update and UpdateMany never promote an image to primary; they can only
	// keep or clear the flag. Promotion goes through SetPrimary.
	Update(ctx context.Context, img *models.MovieImage) error
	UpdateMany(ctx context.Context, imgs []*models.MovieImage) error

	// Delete returns common.ErrNotFound when no row matched.
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteMany deletes every id or none of them (common.ErrNotFound).
	DeleteMany(ctx context.Context, ids []uuid.UUID) error

	// SetPrimary clears the current primary of movieID and marks imageID in
	// one unit of work. It fails with common.ErrNotFound, changing nothing,
	// when imageID is not an image of movieID.
	SetPrimary(ctx context.Context, imageID, movieID uuid.UUID) error

	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)

	// WithLock locks the rows for ids, fails with common.ErrNotFound if any
	// is missing, and runs fn inside the same unit of work.
	WithLock(ctx context.Context, ids []uuid.UUID, fn LockedFunc) error
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
