package images

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/movies/internal/common"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/dmitrijs2005/movies/internal/syncx"
	"github.com/google/uuid"
)

type memoryState struct {
	mu    sync.RWMutex // protects rows
	rows  map[uuid.UUID]*models.MovieImage
	locks *syncx.KeyedMutex
}

// memoryTx tracks the keys held by a WithLock call and the pre-images of
// every row it changed.
type memoryTx struct {
	held    map[string]struct{}
	unlocks []func()
	journal map[uuid.UUID]*models.MovieImage
}

// MemoryRepository is an in-process Repository. Row locks are per-key
// mutexes: "image:<id>" for single rows, and "movie:<id>" plus the image
// keys of all its rows for primary changes. Inside WithLock acquired keys
// are kept until the call ends, and a failing callback restores every row
// it touched.
type MemoryRepository struct {
	st  *memoryState
	tx  *memoryTx
	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		st: &memoryState{
			rows:  make(map[uuid.UUID]*models.MovieImage),
			locks: syncx.NewKeyedMutex(),
		},
		now: time.Now,
	}
}

func imageKey(id uuid.UUID) string { return "image:" + id.String() }
func movieKey(id uuid.UUID) string { return "movie:" + id.String() }

// acquire locks keys and returns the matching release. Inside a WithLock
// unit of work keys stay held until the unit ends.
func (r *MemoryRepository) acquire(keys ...string) (release func()) {
	if r.tx == nil {
		return r.st.locks.LockAll(keys...)
	}
	var fresh []string
	for _, k := range keys {
		if _, ok := r.tx.held[k]; ok {
			continue
		}
		r.tx.held[k] = struct{}{}
		fresh = append(fresh, k)
	}
	if len(fresh) > 0 {
		r.tx.unlocks = append(r.tx.unlocks, r.st.locks.LockAll(fresh...))
	}
	return func() {}
}

// record saves the pre-image of id once per unit of work. Callers hold st.mu.
func (r *MemoryRepository) record(id uuid.UUID) {
	if r.tx == nil {
		return
	}
	if _, ok := r.tx.journal[id]; ok {
		return
	}
	r.tx.journal[id] = r.st.rows[id].Clone()
}

func (r *MemoryRepository) primaryOf(movieID uuid.UUID) *models.MovieImage {
	for _, row := range r.st.rows {
		if row.MovieID == movieID && row.IsPrimary {
			return row
		}
	}
	return nil
}

func (r *MemoryRepository) insert(img *models.MovieImage) error {
	if _, ok := r.st.rows[img.ID]; ok {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	for _, row := range r.st.rows {
		if row.PublicID == img.PublicID {
			return fmt.Errorf("public id %q already exists", img.PublicID)
		}
	}
	if img.IsPrimary && r.primaryOf(img.MovieID) != nil {
		return fmt.Errorf("movie %s already has a primary image", img.MovieID)
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = r.now().UTC()
	}
	r.record(img.ID)
	r.st.rows[img.ID] = img.Clone()
	return nil
}

func (r *MemoryRepository) Create(ctx context.Context, img *models.MovieImage) error {
	defer r.acquire(imageKey(img.ID), movieKey(img.MovieID))()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.insert(img)
}

func (r *MemoryRepository) CreateMany(ctx context.Context, imgs []*models.MovieImage) error {
	if len(imgs) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(imgs))
	for _, img := range imgs {
		keys = append(keys, imageKey(img.ID), movieKey(img.MovieID))
	}
	defer r.acquire(keys...)()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	inserted := make([]uuid.UUID, 0, len(imgs))
	for _, img := range imgs {
		if err := r.insert(img); err != nil {
			for _, id := range inserted {
				delete(r.st.rows, id)
			}
			return err
		}
		inserted = append(inserted, img.ID)
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MovieImage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	row, ok := r.st.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return row.Clone(), nil
}

func sortForMovie(imgs []*models.MovieImage) {
	sort.SliceStable(imgs, func(i, j int) bool {
		if imgs[i].IsPrimary != imgs[j].IsPrimary {
			return imgs[i].IsPrimary
		}
		if !imgs[i].CreatedAt.Equal(imgs[j].CreatedAt) {
			return imgs[i].CreatedAt.Before(imgs[j].CreatedAt)
		}
		return imgs[i].ID.String() < imgs[j].ID.String()
	})
}

func (r *MemoryRepository) GetByMovieID(ctx context.Context, movieID uuid.UUID) ([]*models.MovieImage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var result []*models.MovieImage
	for _, row := range r.st.rows {
		if row.MovieID == movieID {
			result = append(result, row.Clone())
		}
	}
	sortForMovie(result)
	return result, nil
}

func (r *MemoryRepository) GetAll(ctx context.Context) ([]*models.MovieImage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	result := make([]*models.MovieImage, 0, len(r.st.rows))
	for _, row := range r.st.rows {
		result = append(result, row.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *MemoryRepository) GetPrimary(ctx context.Context, movieID uuid.UUID) (*models.MovieImage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if row := r.primaryOf(movieID); row != nil {
		return row.Clone(), nil
	}
	return nil, common.ErrNotFound
}

// apply copies the mutable fields of img onto the stored row. Callers hold st.mu.
func (r *MemoryRepository) apply(img *models.MovieImage) error {
	row, ok := r.st.rows[img.ID]
	if !ok {
		return common.ErrNotFound
	}
	r.record(img.ID)

	next := img.Clone()
	next.MovieID = row.MovieID
	next.CreatedAt = row.CreatedAt
	next.IsPrimary = row.IsPrimary && img.IsPrimary
	r.st.rows[img.ID] = next
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, img *models.MovieImage) error {
	defer r.acquire(imageKey(img.ID))()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.apply(img)
}

func (r *MemoryRepository) UpdateMany(ctx context.Context, imgs []*models.MovieImage) error {
	if len(imgs) == 0 {
		return nil
	}
	keys := make([]string, len(imgs))
	for i, img := range imgs {
		keys[i] = imageKey(img.ID)
	}
	defer r.acquire(keys...)()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, img := range imgs {
		if _, ok := r.st.rows[img.ID]; !ok {
			return fmt.Errorf("image %s: %w", img.ID, common.ErrNotFound)
		}
	}
	for _, img := range imgs {
		if err := r.apply(img); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.acquire(imageKey(id))()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if _, ok := r.st.rows[id]; !ok {
		return common.ErrNotFound
	}
	r.record(id)
	delete(r.st.rows, id)
	return nil
}

func (r *MemoryRepository) DeleteMany(ctx context.Context, ids []uuid.UUID) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = imageKey(id)
	}
	defer r.acquire(keys...)()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for _, id := range ids {
		if _, ok := r.st.rows[id]; !ok {
			return fmt.Errorf("image %s: %w", id, common.ErrNotFound)
		}
	}
	for _, id := range ids {
		r.record(id)
		delete(r.st.rows, id)
	}
	return nil
}

// movieKeys returns the movie key and the image key of every row of movieID.
func (r *MemoryRepository) movieKeys(movieID uuid.UUID) []string {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	keys := []string{movieKey(movieID)}
	for id, row := range r.st.rows {
		if row.MovieID == movieID {
			keys = append(keys, imageKey(id))
		}
	}
	return keys
}

// lockMovie locks a movie together with all of its rows, the same set a
// FOR UPDATE over the movie's rows takes. Rows are only added under the
// movie key, so a stable key set after locking covers every row.
func (r *MemoryRepository) lockMovie(movieID uuid.UUID) (release func()) {
	keys := r.movieKeys(movieID)
	for {
		release = r.acquire(keys...)
		current := r.movieKeys(movieID)
		if containsAll(keys, current) {
			return release
		}
		if r.tx != nil {
			r.acquire(current...)
			return release
		}
		release()
		keys = current
	}
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, k := range have {
		set[k] = struct{}{}
	}
	for _, k := range want {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) SetPrimary(ctx context.Context, imageID, movieID uuid.UUID) error {
	defer r.lockMovie(movieID)()

	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	target, ok := r.st.rows[imageID]
	if !ok || target.MovieID != movieID {
		return common.ErrNotFound
	}

	now := r.now().UTC()
	for id, row := range r.st.rows {
		if row.MovieID == movieID && row.IsPrimary && id != imageID {
			r.record(id)
			cleared := row.Clone()
			cleared.IsPrimary = false
			cleared.UpdatedAt = &now
			r.st.rows[id] = cleared
		}
	}
	r.record(imageID)
	promoted := target.Clone()
	promoted.IsPrimary = true
	promoted.UpdatedAt = &now
	r.st.rows[imageID] = promoted
	return nil
}

func (r *MemoryRepository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	_, ok := r.st.rows[id]
	return ok, nil
}

func (r *MemoryRepository) lockedRows(ids []uuid.UUID) ([]*models.MovieImage, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	locked := make([]*models.MovieImage, 0, len(ids))
	for _, id := range ids {
		row, ok := r.st.rows[id]
		if !ok {
			return nil, fmt.Errorf("image %s: %w", id, common.ErrNotFound)
		}
		locked = append(locked, row.Clone())
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i].ID.String() < locked[j].ID.String() })
	return locked, nil
}

func (r *MemoryRepository) rollback() {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for id, pre := range r.tx.journal {
		if pre == nil {
			delete(r.st.rows, id)
		} else {
			r.st.rows[id] = pre
		}
	}
}

func (r *MemoryRepository) WithLock(ctx context.Context, ids []uuid.UUID, fn LockedFunc) (err error) {
	ids = uniqueIDs(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = imageKey(id)
	}

	// nested call joins the enclosing unit of work
	if r.tx != nil {
		r.acquire(keys...)
		locked, err := r.lockedRows(ids)
		if err != nil {
			return err
		}
		return fn(ctx, locked, r)
	}

	view := &MemoryRepository{
		st:  r.st,
		now: r.now,
		tx: &memoryTx{
			held:    make(map[string]struct{}),
			journal: make(map[uuid.UUID]*models.MovieImage),
		},
	}
	defer func() {
		if p := recover(); p != nil {
			view.rollback()
			view.release()
			panic(p)
		}
		if err != nil {
			view.rollback()
		}
		view.release()
	}()

	view.acquire(keys...)
	locked, err := view.lockedRows(ids)
	if err != nil {
		return err
	}
	return fn(ctx, locked, view)
}

func (r *MemoryRepository) release() {
	for i := len(r.tx.unlocks) - 1; i >= 0; i-- {
		r.tx.unlocks[i]()
	}
	r.tx.unlocks = nil
}
