package images

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, repo Repository, movieID uuid.UUID, n int) []*models.MovieImage {
	t.Helper()
	out := make([]*models.MovieImage, n)
	for i := range out {
		img := sampleImage(movieID)
		img.CreatedAt = fixedNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(context.Background(), img))
		out[i] = img
	}
	return out
}

func countPrimaries(t *testing.T, repo Repository, movieID uuid.UUID) int {
	t.Helper()
	imgs, err := repo.GetByMovieID(context.Background(), movieID)
	require.NoError(t, err)
	n := 0
	for _, img := range imgs {
		if img.IsPrimary {
			n++
		}
	}
	return n
}

func TestMemory_ConcurrentSetPrimaryLeavesOnePrimary(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 8)

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for _, img := range imgs {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				assert.NoError(t, repo.SetPrimary(context.Background(), id, movieID))
			}(img.ID)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, countPrimaries(t, repo, movieID))
}

func TestMemory_SequentialSetPrimary(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 2)
	ctx := context.Background()

	require.NoError(t, repo.SetPrimary(ctx, imgs[0].ID, movieID))
	require.NoError(t, repo.SetPrimary(ctx, imgs[1].ID, movieID))

	p, err := repo.GetPrimary(ctx, movieID)
	require.NoError(t, err)
	assert.Equal(t, imgs[1].ID, p.ID)
	assert.Equal(t, 1, countPrimaries(t, repo, movieID))

	list, err := repo.GetByMovieID(ctx, movieID)
	require.NoError(t, err)
	assert.Equal(t, imgs[1].ID, list[0].ID, "primary first")
}

func TestMemory_SetPrimaryWrongMovieKeepsCurrent(t *testing.T) {
	repo := NewMemoryRepository()
	movieA, movieB := uuid.New(), uuid.New()
	a := seed(t, repo, movieA, 1)[0]
	b := seed(t, repo, movieB, 1)[0]
	ctx := context.Background()

	require.NoError(t, repo.SetPrimary(ctx, a.ID, movieA))
	err := repo.SetPrimary(ctx, b.ID, movieA)
	assert.ErrorIs(t, err, common.ErrNotFound)

	p, err := repo.GetPrimary(ctx, movieA)
	require.NoError(t, err)
	assert.Equal(t, a.ID, p.ID)
}

func TestMemory_CreateRejectsSecondPrimary(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	ctx := context.Background()

	first := sampleImage(movieID)
	first.IsPrimary = true
	require.NoError(t, repo.Create(ctx, first))

	second := sampleImage(movieID)
	second.IsPrimary = true
	assert.Error(t, repo.Create(ctx, second))
}

func TestMemory_UpdateNeverPromotes(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	img := seed(t, repo, movieID, 1)[0]
	ctx := context.Background()

	upd := img.Clone()
	upd.IsPrimary = true
	upd.AltText = "new alt"
	upd.MovieID = uuid.New()
	require.NoError(t, repo.Update(ctx, upd))

	got, err := repo.GetByID(ctx, img.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPrimary)
	assert.Equal(t, "new alt", got.AltText)
	assert.Equal(t, movieID, got.MovieID, "owner is immutable")

	require.NoError(t, repo.SetPrimary(ctx, img.ID, movieID))
	upd = got.Clone()
	upd.IsPrimary = false
	require.NoError(t, repo.Update(ctx, upd))
	assert.Equal(t, 0, countPrimaries(t, repo, movieID), "update may clear the flag")
}

func TestMemory_UpdateMissing(t *testing.T) {
	repo := NewMemoryRepository()
	assert.ErrorIs(t, repo.Update(context.Background(), sampleImage(uuid.New())), common.ErrNotFound)
}

func TestMemory_DeleteManyWithMissingIDDeletesNothing(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 3)
	ctx := context.Background()

	err := repo.DeleteMany(ctx, []uuid.UUID{imgs[0].ID, uuid.New(), imgs[2].ID})
	assert.ErrorIs(t, err, common.ErrNotFound)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, repo.DeleteMany(ctx, []uuid.UUID{imgs[0].ID, imgs[2].ID}))
	all, err = repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, imgs[1].ID, all[0].ID)
}

func TestMemory_UpdateManyAllOrNothing(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 2)
	ctx := context.Background()

	a := imgs[0].Clone()
	a.AltText = "changed"
	ghost := sampleImage(movieID)

	assert.ErrorIs(t, repo.UpdateMany(ctx, []*models.MovieImage{a, ghost}), common.ErrNotFound)
	got, _ := repo.GetByID(ctx, a.ID)
	assert.Equal(t, "poster", got.AltText)
}

func TestMemory_DeleteAndExists(t *testing.T) {
	repo := NewMemoryRepository()
	img := seed(t, repo, uuid.New(), 1)[0]
	ctx := context.Background()

	ok, _ := repo.ExistsByID(ctx, img.ID)
	assert.True(t, ok)
	require.NoError(t, repo.Delete(ctx, img.ID))
	ok, _ = repo.ExistsByID(ctx, img.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, repo.Delete(ctx, img.ID), common.ErrNotFound)
}

func TestMemory_CreateManyAllOrNothing(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	ctx := context.Background()

	a, b := sampleImage(movieID), sampleImage(movieID)
	b.PublicID = a.PublicID

	assert.Error(t, repo.CreateMany(ctx, []*models.MovieImage{a, b}))
	all, _ := repo.GetAll(ctx)
	assert.Empty(t, all)
}

func TestMemory_WithLockRollbackRestoresRows(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 2)
	ctx := context.Background()
	require.NoError(t, repo.SetPrimary(ctx, imgs[0].ID, movieID))

	boom := errors.New("boom")
	err := repo.WithLock(ctx, []uuid.UUID{imgs[0].ID, imgs[1].ID},
		func(ctx context.Context, locked []*models.MovieImage, tx Repository) error {
			require.Len(t, locked, 2)
			require.NoError(t, tx.SetPrimary(ctx, imgs[1].ID, movieID))
			require.NoError(t, tx.DeleteMany(ctx, []uuid.UUID{imgs[0].ID}))
			extra := sampleImage(movieID)
			require.NoError(t, tx.Create(ctx, extra))
			return boom
		})
	assert.ErrorIs(t, err, boom)

	all, err := repo.GetByMovieID(ctx, movieID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, imgs[0].ID, all[0].ID)
	assert.True(t, all[0].IsPrimary)
	assert.False(t, all[1].IsPrimary)
}

func TestMemory_SetPrimaryWaitsForLockedRowOfMovie(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 2)
	a, b := imgs[0], imgs[1]
	ctx := context.Background()
	require.NoError(t, repo.SetPrimary(ctx, a.ID, movieID))

	entered := make(chan struct{})
	release := make(chan struct{})
	failed := errors.New("callback failed")
	lockDone := make(chan error, 1)
	go func() {
		lockDone <- repo.WithLock(ctx, []uuid.UUID{a.ID},
			func(ctx context.Context, locked []*models.MovieImage, tx Repository) error {
				upd := locked[0].Clone()
				upd.AltText = "edited"
				if err := tx.Update(ctx, upd); err != nil {
					return err
				}
				close(entered)
				<-release
				return failed
			})
	}()
	<-entered

	primaryDone := make(chan error, 1)
	go func() { primaryDone <- repo.SetPrimary(ctx, b.ID, movieID) }()

	select {
	case <-primaryDone:
		t.Fatal("SetPrimary changed the movie while one of its rows was locked")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	assert.ErrorIs(t, <-lockDone, failed)
	require.NoError(t, <-primaryDone)

	assert.Equal(t, 1, countPrimaries(t, repo, movieID))
	p, err := repo.GetPrimary(ctx, movieID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, p.ID)
	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "poster", got.AltText)
}

func TestMemory_WithLockCommitsAndReleases(t *testing.T) {
	repo := NewMemoryRepository()
	movieID := uuid.New()
	imgs := seed(t, repo, movieID, 2)
	ctx := context.Background()

	err := repo.WithLock(ctx, []uuid.UUID{imgs[0].ID},
		func(ctx context.Context, locked []*models.MovieImage, tx Repository) error {
			return tx.Delete(ctx, locked[0].ID)
		})
	require.NoError(t, err)

	ok, _ := repo.ExistsByID(ctx, imgs[0].ID)
	assert.False(t, ok)

	done := make(chan struct{})
	go func() {
		_ = repo.Update(ctx, imgs[1])
		_ = repo.Delete(ctx, imgs[1].ID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locks were not released")
	}
	assert.Equal(t, 0, repo.st.locks.Len())
}

func TestMemory_WithLockMissingID(t *testing.T) {
	repo := NewMemoryRepository()
	img := seed(t, repo, uuid.New(), 1)[0]

	called := false
	err := repo.WithLock(context.Background(), []uuid.UUID{img.ID, uuid.New()},
		func(ctx context.Context, locked []*models.MovieImage, tx Repository) error {
			called = true
			return nil
		})
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, called)
}

func TestMemory_WithLockBlocksConcurrentWriters(t *testing.T) {
	repo := NewMemoryRepository()
	img := seed(t, repo, uuid.New(), 1)[0]
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = repo.WithLock(ctx, []uuid.UUID{img.ID},
			func(ctx context.Context, locked []*models.MovieImage, tx Repository) error {
				close(entered)
				<-release
				return tx.Delete(ctx, img.ID)
			})
	}()
	<-entered

	result := make(chan error, 1)
	go func() {
		upd := img.Clone()
		upd.AltText = "late"
		result <- repo.Update(ctx, upd)
	}()

	select {
	case <-result:
		t.Fatal("update ran while the row was locked")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	assert.ErrorIs(t, <-result, common.ErrNotFound, "row was deleted by the lock holder")
}
