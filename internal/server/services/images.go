// Package services contains server-side business logic. ImageService keeps
// the image record store, the media provider and the cache consistent;
// OrphanReconciler removes images whose movie no longer exists.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/cache"
	"github.com/dmitrijs2005/movies/internal/server/media"
	"github.com/dmitrijs2005/movies/internal/server/metrics"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/dmitrijs2005/movies/internal/server/repositories/images"
	"github.com/google/uuid"
)

const cleanupTimeout = 30 * time.Second

// MovieChecker reports whether a movie exists.
type MovieChecker interface {
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
}

// UploadRequest carries one validated image upload. Width, Height, Quality
// and Format are optional hints for the stored rendition.
type UploadRequest struct {
	MovieID     uuid.UUID
	File        io.Reader
	FileName    string
	ContentType string
	AltText     string
	IsPrimary   bool

	Width   int
	Height  int
	Quality string
	Format  string
}

func (r *UploadRequest) options() media.UploadOptions {
	return media.UploadOptions{Width: r.Width, Height: r.Height, Quality: r.Quality, Format: r.Format}
}

func movieFolder(movieID uuid.UUID) string {
	return "movies/" + movieID.String()
}

type ImageService struct {
	images   images.Repository
	movies   MovieChecker
	provider media.Provider
	cache    cache.Store
	logger   logging.Logger

	now         func() time.Time
	imageTTL    time.Duration
	listTTL     time.Duration
	bulkWorkers int

	// invalidations counts cache removals; read-through fills that saw it
	// change while loading are dropped.
	invalidations atomic.Uint64
}

type ImageServiceOption func(*ImageService)

func WithClock(now func() time.Time) ImageServiceOption {
	return func(s *ImageService) { s.now = now }
}

// WithCacheTTL overrides the lifetime of single image and movie list entries.
func WithCacheTTL(image, list time.Duration) ImageServiceOption {
	return func(s *ImageService) {
		if image > 0 {
			s.imageTTL = image
		}
		if list > 0 {
			s.listTTL = list
		}
	}
}

// WithBulkWorkers bounds how many uploads of one UploadMany call run at once.
func WithBulkWorkers(n int) ImageServiceOption {
	return func(s *ImageService) {
		if n > 0 {
			s.bulkWorkers = n
		}
	}
}

func NewImageService(images images.Repository, movies MovieChecker, provider media.Provider, store cache.Store,
	logger logging.Logger, opts ...ImageServiceOption) *ImageService {
	s := &ImageService{
		images:      images,
		movies:      movies,
		provider:    provider,
		cache:       store,
		logger:      logger.With("module", "images"),
		now:         time.Now,
		imageTTL:    cache.ImageTTL,
		listTTL:     cache.MovieImagesTTL,
		bulkWorkers: 4,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// newRecord builds a record for a stored asset with all four delivery URLs.
func (s *ImageService) newRecord(id, movieID uuid.UUID, res *media.UploadResult, altText string) *models.MovieImage {
	return &models.MovieImage{
		ID:           id,
		MovieID:      movieID,
		PublicID:     res.PublicID,
		OriginalURL:  s.provider.BuildURL(res.PublicID, nil),
		ThumbnailURL: s.provider.BuildURL(res.PublicID, &models.Thumbnail),
		MediumURL:    s.provider.BuildURL(res.PublicID, &models.Medium),
		LargeURL:     s.provider.BuildURL(res.PublicID, &models.Large),
		AltText:      altText,
		Width:        res.Width,
		Height:       res.Height,
		Size:         res.Bytes,
		Format:       res.Format,
	}
}

// removeAsset deletes a remote asset on a context that survives the
// caller's cancellation. Failures are logged and returned for counting only.
func (s *ImageService) removeAsset(ctx context.Context, publicID, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.provider.Delete(ctx, publicID); err != nil {
		s.logger.Warn(ctx, "remote asset delete failed", "public_id", publicID, "reason", reason, "error", err)
		return err
	}
	return nil
}

func (s *ImageService) compensate(ctx context.Context, publicID string) {
	err := s.removeAsset(ctx, publicID, "compensation")
	metrics.RecordCompensation(err)
	if err != nil {
		s.logger.Error(ctx, "compensating delete failed, remote asset orphaned", "public_id", publicID, "error", err)
	}
}

func (s *ImageService) checkMovie(ctx context.Context, movieID uuid.UUID) error {
	ok, err := s.movies.ExistsByID(ctx, movieID)
	if err != nil {
		return fmt.Errorf("check movie %s: %w", movieID, err)
	}
	if !ok {
		return fmt.Errorf("movie %s: %w", movieID, common.ErrNotFound)
	}
	return nil
}

func (s *ImageService) UploadImage(ctx context.Context, req *UploadRequest) (img *models.MovieImage, err error) {
	defer func() { metrics.RecordImageOperation("upload", err) }()

	if req == nil || req.File == nil {
		return nil, errors.New("upload request has no file")
	}
	if err := s.checkMovie(ctx, req.MovieID); err != nil {
		return nil, err
	}

	res, err := s.provider.Upload(ctx, req.File, req.FileName, movieFolder(req.MovieID), req.options())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
	}

	img = s.newRecord(uuid.New(), req.MovieID, res, req.AltText)
	img.CreatedAt = s.now().UTC()
	if err := s.images.Create(ctx, img); err != nil {
		s.compensate(ctx, res.PublicID)
		return nil, fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err)
	}

	if req.IsPrimary {
		if err := s.images.SetPrimary(ctx, img.ID, img.MovieID); err != nil {
			s.forgetMovie(ctx, img.MovieID)
			return nil, fmt.Errorf("%w: set primary: %w", common.ErrPersistenceFailed, err)
		}
		img.IsPrimary = true
		s.forgetMovieImages(ctx, img.MovieID)
	} else {
		s.forgetMovie(ctx, img.MovieID)
	}
	s.cacheImage(ctx, img)

	s.logger.Info(ctx, "image uploaded", "image_id", img.ID, "movie_id", img.MovieID, "public_id", img.PublicID)
	return img, nil
}

// UpdateImage replaces the asset of an existing image. The new asset is
// stored before the old one is removed, so a failed upload leaves the image
// untouched.
func (s *ImageService) UpdateImage(ctx context.Context, imageID uuid.UUID, req *UploadRequest) (img *models.MovieImage, err error) {
	defer func() { metrics.RecordImageOperation("update", err) }()

	if req == nil || req.File == nil {
		return nil, errors.New("upload request has no file")
	}
	existing, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("image %s: %w", imageID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("load image %s: %w", imageID, err)
	}
	if existing.MovieID != req.MovieID {
		return nil, fmt.Errorf("image %s, movie %s: %w", imageID, req.MovieID, common.ErrMismatch)
	}

	res, err := s.provider.Upload(ctx, req.File, req.FileName, movieFolder(existing.MovieID), req.options())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
	}

	now := s.now().UTC()
	img = s.newRecord(existing.ID, existing.MovieID, res, req.AltText)
	img.CreatedAt = existing.CreatedAt
	img.UpdatedAt = &now
	img.IsPrimary = existing.IsPrimary

	if err := s.images.Update(ctx, img); err != nil {
		s.compensate(ctx, res.PublicID)
		return nil, fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err)
	}
	s.forgetImage(ctx, img.ID)

	if existing.PublicID != img.PublicID {
		_ = s.removeAsset(ctx, existing.PublicID, "replaced")
	}

	if req.IsPrimary && !existing.IsPrimary {
		if err := s.images.SetPrimary(ctx, img.ID, img.MovieID); err != nil {
			s.forgetMovie(ctx, img.MovieID)
			return nil, fmt.Errorf("%w: set primary: %w", common.ErrPersistenceFailed, err)
		}
		img.IsPrimary = true
		s.forgetMovieImages(ctx, img.MovieID)
	} else {
		s.forgetMovie(ctx, img.MovieID)
	}
	s.cacheImage(ctx, img)

	s.logger.Info(ctx, "image updated", "image_id", img.ID, "movie_id", img.MovieID, "public_id", img.PublicID)
	return img, nil
}

// DeleteImage reports false with a nil error when the image does not exist.
// A failed remote delete is logged and the record is removed anyway.
func (s *ImageService) DeleteImage(ctx context.Context, imageID uuid.UUID) (deleted bool, err error) {
	defer func() { metrics.RecordImageOperation("delete", err) }()

	img, err := s.images.GetByID(ctx, imageID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load image %s: %w", common.ErrPersistenceFailed, imageID, err)
	}

	deleted, _, err = s.deleteLoaded(ctx, img, "delete")
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info(ctx, "image deleted", "image_id", img.ID, "movie_id", img.MovieID)
	}
	return deleted, nil
}

// deleteLoaded removes the asset, then the record, then the cache entries of
// an already loaded image. It is shared with the orphan reconciler. A failed
// asset delete is logged and returned as assetErr; the record is deleted
// regardless.
func (s *ImageService) deleteLoaded(ctx context.Context, img *models.MovieImage, reason string) (deleted bool, assetErr, err error) {
	assetErr = s.removeAsset(ctx, img.PublicID, reason)

	if err := s.images.Delete(ctx, img.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.forgetImage(ctx, img.ID)
			return false, assetErr, nil
		}
		return false, assetErr, fmt.Errorf("%w: delete image %s: %w", common.ErrPersistenceFailed, img.ID, err)
	}
	s.forgetImage(ctx, img.ID)
	s.forgetMovie(ctx, img.MovieID)
	return true, assetErr, nil
}

// GetImage reads through the cache. URLs are returned exactly as stored.
func (s *ImageService) GetImage(ctx context.Context, imageID uuid.UUID) (*models.MovieImage, error) {
	key := cache.ImageKey(imageID)
	gen := s.invalidations.Load()
	cached, err := cache.GetJSON[models.MovieImage](ctx, s.cache, key)
	switch {
	case err == nil:
		metrics.RecordCache("image", "hit")
		return cached, nil
	case errors.Is(err, cache.ErrMiss):
		metrics.RecordCache("image", "miss")
	default:
		metrics.RecordCache("image", "error")
		s.logger.Warn(ctx, "cache read failed", "key", key, "error", err)
	}

	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("image %s: %w", imageID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("load image %s: %w", imageID, err)
	}
	s.fill(ctx, key, img, s.imageTTL, gen)
	return img, nil
}

// GetMovieImages lists the images of a movie, primary first, then by
// creation time.
func (s *ImageService) GetMovieImages(ctx context.Context, movieID uuid.UUID) ([]*models.MovieImage, error) {
	key := cache.MovieImagesKey(movieID)
	gen := s.invalidations.Load()
	cached, err := cache.GetJSON[[]*models.MovieImage](ctx, s.cache, key)
	switch {
	case err == nil:
		metrics.RecordCache("movie_images", "hit")
		return *cached, nil
	case errors.Is(err, cache.ErrMiss):
		metrics.RecordCache("movie_images", "miss")
	default:
		metrics.RecordCache("movie_images", "error")
		s.logger.Warn(ctx, "cache read failed", "key", key, "error", err)
	}

	list, err := s.images.GetByMovieID(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("list images of movie %s: %w", movieID, err)
	}
	if list == nil {
		list = []*models.MovieImage{}
	}
	s.fill(ctx, key, list, s.listTTL, gen)
	return list, nil
}

func (s *ImageService) GetPrimaryImage(ctx context.Context, movieID uuid.UUID) (*models.MovieImage, error) {
	img, err := s.images.GetPrimary(ctx, movieID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("primary image of movie %s: %w", movieID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("load primary image of movie %s: %w", movieID, err)
	}
	return img, nil
}

// SetPrimaryImage makes imageID the primary image of the movie it belongs to.
func (s *ImageService) SetPrimaryImage(ctx context.Context, imageID uuid.UUID) error {
	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("image %s: %w", imageID, common.ErrNotFound)
		}
		return fmt.Errorf("load image %s: %w", imageID, err)
	}
	return s.SetPrimaryImageForMovie(ctx, imageID, img.MovieID)
}

// SetPrimaryImageForMovie clears the primary flag of every image of movieID
// and sets it on imageID as one unit. Concurrent calls for the same movie
// are serialised by the record store; the last to commit wins.
func (s *ImageService) SetPrimaryImageForMovie(ctx context.Context, imageID, movieID uuid.UUID) (err error) {
	defer func() { metrics.RecordImageOperation("set_primary", err) }()

	if err := s.images.SetPrimary(ctx, imageID, movieID); err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: set primary: %w", common.ErrPersistenceFailed, err)
		}
		img, getErr := s.images.GetByID(ctx, imageID)
		if getErr == nil && img.MovieID != movieID {
			return fmt.Errorf("image %s, movie %s: %w", imageID, movieID, common.ErrMismatch)
		}
		return fmt.Errorf("image %s: %w", imageID, common.ErrNotFound)
	}

	s.forgetMovieImages(ctx, movieID)
	s.logger.Info(ctx, "primary image set", "image_id", imageID, "movie_id", movieID)
	return nil
}

// TransformedURL builds a delivery URL for an arbitrary transformation.
func (s *ImageService) TransformedURL(publicID string, t models.Transformation) string {
	return s.provider.BuildURL(publicID, &t)
}

func (s *ImageService) cacheImage(ctx context.Context, img *models.MovieImage) {
	key := cache.ImageKey(img.ID)
	if err := cache.SetJSON(ctx, s.cache, key, img, s.imageTTL); err != nil {
		s.logger.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

// fill stores a value loaded by a read-through miss. gen is the
// invalidation count taken before loading; if a mutation invalidated the
// cache since then the value may be stale and is not kept.
func (s *ImageService) fill(ctx context.Context, key string, v any, ttl time.Duration, gen uint64) {
	if s.invalidations.Load() != gen {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, ttl); err != nil {
		s.logger.Warn(ctx, "cache write failed", "key", key, "error", err)
		return
	}
	if s.invalidations.Load() != gen {
		if err := s.cache.Remove(ctx, key); err != nil {
			s.logger.Warn(ctx, "cache remove failed", "key", key, "error", err)
		}
	}
}

func (s *ImageService) forgetImage(ctx context.Context, imageID uuid.UUID) {
	key := cache.ImageKey(imageID)
	s.invalidations.Add(1)
	if err := s.cache.Remove(ctx, key); err != nil {
		s.logger.Warn(ctx, "cache remove failed", "key", key, "error", err)
	}
}

// forgetMovie drops the list entries of a movie.
func (s *ImageService) forgetMovie(ctx context.Context, movieID uuid.UUID) {
	pattern := cache.MovieImagesPattern(movieID)
	s.invalidations.Add(1)
	if err := s.cache.RemoveByPattern(ctx, pattern); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "pattern", pattern, "error", err)
	}
}

// forgetMovieImages drops the list entries of a movie and the single entries
// of each of its images, whose primary flags may have changed.
func (s *ImageService) forgetMovieImages(ctx context.Context, movieID uuid.UUID) {
	s.forgetMovie(ctx, movieID)
	list, err := s.images.GetByMovieID(ctx, movieID)
	if err != nil {
		s.logger.Warn(ctx, "cache invalidation skipped image entries", "movie_id", movieID, "error", err)
		return
	}
	for _, img := range list {
		s.forgetImage(ctx, img.ID)
	}
}
