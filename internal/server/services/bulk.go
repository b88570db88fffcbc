package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/server/metrics"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/dmitrijs2005/movies/internal/server/repositories/images"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type BulkUploadFailure struct {
	Index    int
	FileName string
	Err      error
}

// BulkUploadResult holds the per item outcome of UploadMany. Succeeded and
// Failed keep the order of the request.
type BulkUploadResult struct {
	Succeeded []*models.MovieImage
	Failed    []BulkUploadFailure
}

func (r *BulkUploadResult) Total() int { return len(r.Succeeded) + len(r.Failed) }

func (r *BulkUploadResult) AllSucceeded() bool { return len(r.Failed) == 0 }

// UploadMany uploads every request independently. A failed item never
// undoes another item.
func (s *ImageService) UploadMany(ctx context.Context, reqs []*UploadRequest) *BulkUploadResult {
	imgs := make([]*models.MovieImage, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.bulkWorkers)
	for i, req := range reqs {
		g.Go(func() error {
			imgs[i], errs[i] = s.UploadImage(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	res := &BulkUploadResult{}
	for i, req := range reqs {
		if errs[i] != nil {
			name := ""
			if req != nil {
				name = req.FileName
			}
			res.Failed = append(res.Failed, BulkUploadFailure{Index: i, FileName: name, Err: errs[i]})
			continue
		}
		res.Succeeded = append(res.Succeeded, imgs[i])
	}
	s.logger.Info(ctx, "bulk upload finished", "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res
}

func storeError(err error) error {
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrMismatch) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrPersistenceFailed, err)
}

// DeleteMany deletes every image in ids or none of them. All rows are locked
// first; a missing id fails the whole batch with common.ErrNotFound before
// anything is touched. Remote deletes are best effort.
func (s *ImageService) DeleteMany(ctx context.Context, ids []uuid.UUID) (err error) {
	defer func() { metrics.RecordImageOperation("delete_many", err) }()

	if len(ids) == 0 {
		return nil
	}

	var removed []*models.MovieImage
	err = s.images.WithLock(ctx, ids, func(ctx context.Context, locked []*models.MovieImage, tx images.Repository) error {
		for _, img := range locked {
			_ = s.removeAsset(ctx, img.PublicID, "bulk delete")
		}
		lockedIDs := make([]uuid.UUID, len(locked))
		for i, img := range locked {
			lockedIDs[i] = img.ID
		}
		if err := tx.DeleteMany(ctx, lockedIDs); err != nil {
			return err
		}
		removed = locked
		return nil
	})
	if err != nil {
		return storeError(err)
	}

	s.forgetAll(ctx, removed)
	s.logger.Info(ctx, "images deleted", "count", len(removed))
	return nil
}

// UpdateMany updates the metadata of several images as one unit. Only the
// alt text and clearing the primary flag are applied; assets and ownership
// stay as stored. A missing id fails the batch with common.ErrNotFound and
// an image of another movie with common.ErrMismatch.
func (s *ImageService) UpdateMany(ctx context.Context, updates []*models.MovieImage) (err error) {
	defer func() { metrics.RecordImageOperation("update_many", err) }()

	if len(updates) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.MovieImage, len(updates))
	ids := make([]uuid.UUID, 0, len(updates))
	for _, u := range updates {
		if _, dup := byID[u.ID]; !dup {
			ids = append(ids, u.ID)
		}
		byID[u.ID] = u
	}

	var changed []*models.MovieImage
	err = s.images.WithLock(ctx, ids, func(ctx context.Context, locked []*models.MovieImage, tx images.Repository) error {
		now := s.now().UTC()
		next := make([]*models.MovieImage, 0, len(locked))
		for _, row := range locked {
			u := byID[row.ID]
			if u.MovieID != uuid.Nil && u.MovieID != row.MovieID {
				return fmt.Errorf("image %s, movie %s: %w", row.ID, u.MovieID, common.ErrMismatch)
			}
			merged := row.Clone()
			merged.AltText = u.AltText
			merged.IsPrimary = row.IsPrimary && u.IsPrimary
			merged.UpdatedAt = &now
			next = append(next, merged)
		}
		if err := tx.UpdateMany(ctx, next); err != nil {
			return err
		}
		changed = next
		return nil
	})
	if err != nil {
		return storeError(err)
	}

	s.forgetAll(ctx, changed)
	return nil
}

// DeleteMovieImages removes every image of a movie and returns how many
// were deleted.
func (s *ImageService) DeleteMovieImages(ctx context.Context, movieID uuid.UUID) (int, error) {
	list, err := s.images.GetByMovieID(ctx, movieID)
	if err != nil {
		return 0, fmt.Errorf("list images of movie %s: %w", movieID, err)
	}
	if len(list) == 0 {
		s.forgetMovie(ctx, movieID)
		return 0, nil
	}
	ids := make([]uuid.UUID, len(list))
	for i, img := range list {
		ids[i] = img.ID
	}
	if err := s.DeleteMany(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *ImageService) forgetAll(ctx context.Context, imgs []*models.MovieImage) {
	movies := make(map[uuid.UUID]struct{})
	for _, img := range imgs {
		s.forgetImage(ctx, img.ID)
		movies[img.MovieID] = struct{}{}
	}
	for movieID := range movies {
		s.forgetMovie(ctx, movieID)
	}
}
