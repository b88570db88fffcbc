package images

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

const imageColumns = `id, movie_id, public_id, original_url, thumbnail_url, medium_url, large_url,
	alt_text, width, height, size, format, is_primary, created_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
// Multi-statement operations begin their own transaction when bound to
// *sql.DB and join the caller's when bound to *sql.Tx.
type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) bind(tx dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: tx, now: r.now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*models.MovieImage, error) {
	var (
		img       models.MovieImage
		updatedAt sql.NullTime
	)
	if err := row.Scan(&img.ID, &img.MovieID, &img.PublicID, &img.OriginalURL, &img.ThumbnailURL,
		&img.MediumURL, &img.LargeURL, &img.AltText, &img.Width, &img.Height, &img.Size, &img.Format,
		&img.IsPrimary, &img.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		img.UpdatedAt = &t
	}
	return &img, nil
}

func (r *PostgresRepository) queryImages(ctx context.Context, query string, args ...any) ([]*models.MovieImage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.MovieImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// placeholders returns "$start, $start+1, ..." for n arguments.
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

func idArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// lockRows selects and locks the rows for ids in id order. It fails with
// common.ErrNotFound when fewer rows than distinct ids matched.
func (r *PostgresRepository) lockRows(ctx context.Context, ids []uuid.UUID) ([]*models.MovieImage, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + imageColumns + ` FROM movie_images WHERE id IN (` + placeholders(1, len(ids)) + `) ORDER BY id FOR UPDATE`
	locked, err := r.queryImages(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock images: %w", err)
	}
	if len(locked) != len(ids) {
		return nil, fmt.Errorf("locked %d of %d images: %w", len(locked), len(ids), common.ErrNotFound)
	}
	return locked, nil
}

// Create inserts a new image record. A zero CreatedAt is set to now.
func (r *PostgresRepository) Create(ctx context.Context, img *models.MovieImage) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = r.now().UTC()
	}
	query := `INSERT INTO movie_images (` + imageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		img.ID, img.MovieID, img.PublicID, img.OriginalURL, img.ThumbnailURL, img.MediumURL, img.LargeURL,
		img.AltText, img.Width, img.Height, img.Size, img.Format, img.IsPrimary, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

// CreateMany inserts all images in one transaction.
func (r *PostgresRepository) CreateMany(ctx context.Context, imgs []*models.MovieImage) error {
	if len(imgs) == 0 {
		return nil
	}
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.bind(tx)
		for _, img := range imgs {
			if err := repo.Create(ctx, img); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MovieImage, error) {
	query := `SELECT ` + imageColumns + ` FROM movie_images WHERE id = $1`
	img, err := scanImage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select image: %w", err)
	}
	return img, nil
}

func (r *PostgresRepository) GetByMovieID(ctx context.Context, movieID uuid.UUID) ([]*models.MovieImage, error) {
	query := `SELECT ` + imageColumns + ` FROM movie_images WHERE movie_id = $1 ORDER BY is_primary DESC, created_at ASC, id ASC`
	imgs, err := r.queryImages(ctx, query, movieID)
	if err != nil {
		return nil, fmt.Errorf("failed to select movie images: %w", err)
	}
	return imgs, nil
}

func (r *PostgresRepository) GetAll(ctx context.Context) ([]*models.MovieImage, error) {
	query := `SELECT ` + imageColumns + ` FROM movie_images ORDER BY created_at ASC, id ASC`
	imgs, err := r.queryImages(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select images: %w", err)
	}
	return imgs, nil
}

func (r *PostgresRepository) GetPrimary(ctx context.Context, movieID uuid.UUID) (*models.MovieImage, error) {
	query := `SELECT ` + imageColumns + ` FROM movie_images WHERE movie_id = $1 AND is_primary LIMIT 1`
	img, err := scanImage(r.db.QueryRowContext(ctx, query, movieID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select primary image: %w", err)
	}
	return img, nil
}

// Update overwrites the mutable fields of an existing record. movie_id and
// created_at are never changed and is_primary can only be cleared.
func (r *PostgresRepository) Update(ctx context.Context, img *models.MovieImage) error {
	query := `UPDATE movie_images SET
			public_id = $2, original_url = $3, thumbnail_url = $4, medium_url = $5, large_url = $6,
			alt_text = $7, width = $8, height = $9, size = $10, format = $11,
			is_primary = is_primary AND $12, updated_at = $13
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		img.ID, img.PublicID, img.OriginalURL, img.ThumbnailURL, img.MediumURL, img.LargeURL,
		img.AltText, img.Width, img.Height, img.Size, img.Format, img.IsPrimary, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
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

// UpdateMany locks every target row and updates all of them, or none when
// any is missing.
func (r *PostgresRepository) UpdateMany(ctx context.Context, imgs []*models.MovieImage) error {
	if len(imgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(imgs))
	for i, img := range imgs {
		ids[i] = img.ID
	}
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.bind(tx)
		if _, err := repo.lockRows(ctx, ids); err != nil {
			return err
		}
		for _, img := range imgs {
			if err := repo.Update(ctx, img); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM movie_images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
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

// DeleteMany locks every target row and deletes all of them, or none when
// any is missing.
func (r *PostgresRepository) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.bind(tx)
		if _, err := repo.lockRows(ctx, ids); err != nil {
			return err
		}
		query := `DELETE FROM movie_images WHERE id IN (` + placeholders(1, len(ids)) + `)`
		res, err := tx.ExecContext(ctx, query, idArgs(ids)...)
		if err != nil {
			return fmt.Errorf("failed to delete images: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("deleted %d of %d images: %w", n, len(ids), common.ErrNotFound)
		}
		return nil
	})
}

// SetPrimary locks every image of the movie, clears the current primary and
// marks imageID. The partial unique index on (movie_id) WHERE is_primary
// rejects any interleaving the row locks miss.
func (r *PostgresRepository) SetPrimary(ctx context.Context, imageID, movieID uuid.UUID) error {
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM movie_images WHERE movie_id = $1 ORDER BY id FOR UPDATE`, movieID)
		if err != nil {
			return fmt.Errorf("failed to lock movie images: %w", err)
		}
		found := false
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if id == imageID {
				found = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if !found {
			return common.ErrNotFound
		}

		now := r.now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE movie_images SET is_primary = false, updated_at = $2 WHERE movie_id = $1 AND is_primary`,
			movieID, now); err != nil {
			return fmt.Errorf("failed to clear primary image: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE movie_images SET is_primary = true, updated_at = $3 WHERE id = $1 AND movie_id = $2`,
			imageID, movieID, now)
		if err != nil {
			return fmt.Errorf("failed to set primary image: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n != 1 {
			return common.ErrNotFound
		}
		return nil
	})
}

func (r *PostgresRepository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM movie_images WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check image: %w", err)
	}
	return exists, nil
}

// WithLock locks the rows for ids with SELECT ... FOR UPDATE and runs fn in
// the same transaction. fn receives a repository bound to that transaction.
func (r *PostgresRepository) WithLock(ctx context.Context, ids []uuid.UUID, fn LockedFunc) error {
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.bind(tx)
		locked, err := repo.lockRows(ctx, ids)
		if err != nil {
			return err
		}
		return fn(ctx, locked, repo)
	})
}
