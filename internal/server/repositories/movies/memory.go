package movies

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps movies in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	movies map[uuid.UUID]models.Movie
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{movies: make(map[uuid.UUID]models.Movie)}
}

func (r *MemoryRepository) Create(ctx context.Context, movie *models.Movie) error {
	if movie.Slug == "" {
		movie.Slug = models.Slug(movie.Title, movie.YearOfRelease)
	}
	if movie.CreatedAt.IsZero() {
		movie.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.movies[movie.ID]; ok {
		return fmt.Errorf("movie %s already exists", movie.ID)
	}
	for _, m := range r.movies {
		if m.Slug == movie.Slug {
			return fmt.Errorf("slug %q already exists", movie.Slug)
		}
	}
	stored := *movie
	stored.Genres = append([]string(nil), movie.Genres...)
	r.movies[movie.ID] = stored
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Movie, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.movies[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	m.Genres = append([]string(nil), m.Genres...)
	return &m, nil
}

func (r *MemoryRepository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.movies[id]
	return ok, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.movies[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.movies, id)
	return nil
}

func (r *MemoryRepository) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.movies[id]; !ok {
			return fmt.Errorf("movie %s: %w", id, common.ErrNotFound)
		}
	}
	for _, id := range ids {
		delete(r.movies, id)
	}
	return nil
}
