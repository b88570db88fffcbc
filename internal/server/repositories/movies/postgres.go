// Package movies provides the PostgreSQL-backed movie repository.
package movies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/dbx"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create inserts the movie and its genres in one transaction. The slug is
// derived from the title when empty.
func (r *PostgresRepository) Create(ctx context.Context, movie *models.Movie) error {
	if movie.Slug == "" {
		movie.Slug = models.Slug(movie.Title, movie.YearOfRelease)
	}
	if movie.CreatedAt.IsZero() {
		movie.CreatedAt = r.now().UTC()
	}
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO movies (id, slug, title, yearofrelease, created_at) VALUES ($1, $2, $3, $4, $5)`,
			movie.ID, movie.Slug, movie.Title, movie.YearOfRelease, movie.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert movie: %w", err)
		}
		for _, g := range movie.Genres {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO genres (movieid, name) VALUES ($1, $2)`, movie.ID, g); err != nil {
				return fmt.Errorf("failed to insert genre: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Movie, error) {
	m := &models.Movie{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, title, yearofrelease, created_at FROM movies WHERE id = $1`, id).
		Scan(&m.ID, &m.Slug, &m.Title, &m.YearOfRelease, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select movie: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT name FROM genres WHERE movieid = $1 ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select genres: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		m.Genres = append(m.Genres, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM movies WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check movie: %w", err)
	}
	return exists, nil
}

// Delete removes the movie. Its genres and images go with it through
// ON DELETE CASCADE; remote assets are left for the orphan reconciler.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete movie: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DeleteMany deletes every movie in ids or none of them.
func (r *PostgresRepository) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, len(ids))
	)
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
		args[i] = id
	}
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM movies WHERE id IN (`+b.String()+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to delete movies: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("deleted %d of %d movies: %w", n, len(ids), common.ErrNotFound)
		}
		return nil
	})
}
