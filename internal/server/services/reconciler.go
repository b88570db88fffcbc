package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/locker"
	"github.com/dmitrijs2005/movies/internal/server/metrics"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
)

const (
	DefaultReconcileInterval = 24 * time.Hour
	reconcilerLockName       = "orphan-reconciler"
)

// SweepResult summarises one reconciler pass.
type SweepResult struct {
	Scanned             int
	Orphans             int
	Removed             int
	AssetDeleteFailures int
	// Skipped is set when another node held the reconciler lock.
	Skipped bool
}

// OrphanReconciler periodically removes images whose movie no longer
// exists, asset first, then record, through the ImageService delete path.
type OrphanReconciler struct {
	images   *ImageService
	locker   locker.Locker
	logger   logging.Logger
	interval time.Duration
	lockTTL  time.Duration
}

type ReconcilerOption func(*OrphanReconciler)

func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *OrphanReconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLockTTL bounds how long a crashed node can keep other nodes from sweeping.
func WithLockTTL(d time.Duration) ReconcilerOption {
	return func(r *OrphanReconciler) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

func NewOrphanReconciler(images *ImageService, l locker.Locker, logger logging.Logger, opts ...ReconcilerOption) *OrphanReconciler {
	r := &OrphanReconciler{
		images:   images,
		locker:   l,
		logger:   logger.With("module", "reconciler"),
		interval: DefaultReconcileInterval,
		lockTTL:  time.Hour,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run sweeps once immediately and then on every interval until ctx is
// cancelled. A failed sweep is logged and the loop carries on.
func (r *OrphanReconciler) Run(ctx context.Context) error {
	r.logger.Info(ctx, "orphan reconciler started", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "orphan reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *OrphanReconciler) runOnce(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			metrics.RecordSweep(metrics.StatusError, 0, 0)
			r.logger.Error(ctx, "orphan sweep panicked", "panic", fmt.Sprint(p))
		}
	}()

	res, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error(ctx, "orphan sweep failed", "error", err, "removed", res.Removed)
		}
		return
	}
	if res.Skipped {
		r.logger.Debug(ctx, "orphan sweep skipped, lock held elsewhere")
	}
}

// Sweep runs one reconciliation pass. It returns a result with Skipped set
// and a nil error when the lock is held by someone else.
func (r *OrphanReconciler) Sweep(ctx context.Context) (res SweepResult, err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusSuccess
		switch {
		case err != nil:
			status = metrics.StatusError
		case res.Skipped:
			status = "skipped"
		}
		metrics.RecordSweep(status, res.Removed, time.Since(start).Seconds())
	}()

	unlock, err := r.locker.TryLock(ctx, reconcilerLockName, r.lockTTL)
	if errors.Is(err, common.ErrLockNotAcquired) {
		return SweepResult{Skipped: true}, nil
	}
	if err != nil {
		return res, fmt.Errorf("acquire reconciler lock: %w", err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			r.logger.Warn(ctx, "release reconciler lock failed", "error", uerr)
		}
	}()

	all, err := r.images.images.GetAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list images: %w", err)
	}
	res.Scanned = len(all)

	orphans, checkErr := r.findOrphans(ctx, all)
	res.Orphans = len(orphans)

	var errs []error
	if checkErr != nil {
		errs = append(errs, checkErr)
	}
	for _, img := range orphans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		deleted, assetErr, err := r.images.deleteLoaded(ctx, img, "orphan")
		if assetErr != nil {
			res.AssetDeleteFailures++
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("delete orphan %s: %w", img.ID, err))
			continue
		}
		if deleted {
			res.Removed++
		}
	}

	r.logger.Info(ctx, "orphan sweep finished",
		"scanned", res.Scanned, "orphans", res.Orphans, "removed", res.Removed,
		"asset_delete_failures", res.AssetDeleteFailures)
	return res, errors.Join(errs...)
}

// findOrphans checks each distinct movie once. Images of a movie whose
// existence could not be checked are kept.
func (r *OrphanReconciler) findOrphans(ctx context.Context, all []*models.MovieImage) ([]*models.MovieImage, error) {
	exists := make(map[uuid.UUID]bool)
	var (
		orphans []*models.MovieImage
		errs    []error
	)
	for _, img := range all {
		ok, seen := exists[img.MovieID]
		if !seen {
			var err error
			ok, err = r.images.movies.ExistsByID(ctx, img.MovieID)
			if err != nil {
				errs = append(errs, fmt.Errorf("check movie %s: %w", img.MovieID, err))
				ok = true
			}
			exists[img.MovieID] = ok
		}
		if !ok {
			orphans = append(orphans, img)
		}
	}
	return orphans, errors.Join(errs...)
}
