package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/cache"
	"github.com/dmitrijs2005/movies/internal/server/locker"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (locker.Unlock, error) {
	return nil, common.ErrLockNotAcquired
}

type failingLocker struct{}

func (failingLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (locker.Unlock, error) {
	return nil, errors.New("redis unreachable")
}

func TestSweep_RemovesOnlyOrphans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m1 := h.movieID
	m2 := uuid.New()
	h.movies.ids[m2] = true

	keep := []*models.MovieImage{h.upload(t, "k1", true), h.upload(t, "k2", false)}
	var gone []*models.MovieImage
	for _, n := range []string{"o1", "o2", "o3"} {
		img, err := h.svc.UploadImage(ctx, uploadReq(m2, n))
		require.NoError(t, err)
		gone = append(gone, img)
	}
	_, err := h.svc.GetMovieImages(ctx, m2)
	require.NoError(t, err)
	h.movies.remove(m2)
	h.movies.checks = 0

	r := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop())
	res, err := r.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Scanned: 5, Orphans: 3, Removed: 3}, res)
	assert.Equal(t, 2, h.movies.checks, "existence is checked once per movie")

	var wantDeleted []string
	for _, img := range gone {
		wantDeleted = append(wantDeleted, img.PublicID)
	}
	assert.ElementsMatch(t, wantDeleted, h.provider.deleted(), "one remote delete per removed record")

	left, _ := h.store.GetByMovieID(ctx, m1)
	require.Len(t, left, 2)
	assert.ElementsMatch(t, []uuid.UUID{keep[0].ID, keep[1].ID}, []uuid.UUID{left[0].ID, left[1].ID})
	assert.True(t, left[0].IsPrimary)

	_, err = cache.GetJSON[[]*models.MovieImage](ctx, h.cache, cache.MovieImagesKey(m2))
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = h.svc.GetImage(ctx, gone[0].ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	res, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2}, res)
}

func TestSweep_AssetFailureStillRemovesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "a", false)
	h.movies.remove(h.movieID)
	h.provider.deleteErr = errors.New("provider down")

	res, err := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.AssetDeleteFailures)

	all, _ := h.store.GetAll(ctx)
	assert.Empty(t, all)
}

func TestSweep_UsesImageDeletePath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	img := h.upload(t, "a", false)
	_, err := h.svc.GetImage(ctx, img.ID)
	require.NoError(t, err)
	h.movies.remove(h.movieID)
	h.repo.deleteErr = errors.New("disk full")

	res, err := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop()).Sweep(ctx)
	assert.ErrorIs(t, err, common.ErrPersistenceFailed)
	assert.ErrorContains(t, err, "delete orphan "+img.ID.String())
	assert.Equal(t, 1, res.Orphans)
	assert.Zero(t, res.Removed)
	assert.Equal(t, []string{img.PublicID}, h.provider.deleted())

	_, err = cache.GetJSON[models.MovieImage](ctx, h.cache, cache.ImageKey(img.ID))
	assert.NoError(t, err, "cache entries stay while the record survives")
}

func TestSweep_MovieCheckErrorKeepsImages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "a", false)
	h.movies.err = errors.New("movies db down")

	res, err := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop()).Sweep(ctx)
	assert.ErrorContains(t, err, "movies db down")
	assert.Zero(t, res.Removed)

	all, _ := h.store.GetAll(ctx)
	assert.Len(t, all, 1)
	assert.Empty(t, h.provider.deleted())
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "a", false)
	h.movies.remove(h.movieID)

	res, err := NewOrphanReconciler(h.svc, busyLocker{}, logging.Nop()).Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	all, _ := h.store.GetAll(context.Background())
	assert.Len(t, all, 1)

	_, err = NewOrphanReconciler(h.svc, failingLocker{}, logging.Nop()).Sweep(context.Background())
	assert.ErrorContains(t, err, "redis unreachable")
}

func TestSweep_ReleasesLock(t *testing.T) {
	h := newHarness(t)
	l := locker.NewLocalLocker()
	r := NewOrphanReconciler(h.svc, l, logging.Nop())

	_, err := r.Sweep(context.Background())
	require.NoError(t, err)

	unlock, err := l.TryLock(context.Background(), reconcilerLockName, time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}

func TestRun_SurvivesFailedCyclesAndStops(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "a", false)
	h.repo.failGetAll(errors.New("scan failed"))

	r := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop(), WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	h.movies.remove(h.movieID)
	h.repo.failGetAll(nil)

	require.Eventually(t, func() bool {
		all, _ := h.store.GetAll(context.Background())
		return len(all) == 0
	}, time.Second, 5*time.Millisecond, "a later cycle cleans up after failed ones")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestReconcilerOptions(t *testing.T) {
	h := newHarness(t)
	r := NewOrphanReconciler(h.svc, locker.NewLocalLocker(), logging.Nop(), WithInterval(0), WithLockTTL(time.Minute))
	assert.Equal(t, DefaultReconcileInterval, r.interval)
	assert.Equal(t, time.Minute, r.lockTTL)
}
