package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/cache"
	"github.com/dmitrijs2005/movies/internal/server/media"
	"github.com/dmitrijs2005/movies/internal/server/models"
	"github.com/dmitrijs2005/movies/internal/server/repositories/images"
	"github.com/google/uuid"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	n         int
	uploads   []string
	deletes   []string
	uploadErr error
	deleteErr error
	urls      media.URLBuilder
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{urls: media.NewURLBuilder("https://cdn.test")}
}

func (p *fakeProvider) Upload(ctx context.Context, r io.Reader, filename, folder string, opts media.UploadOptions) (*media.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadErr != nil {
		return nil, p.uploadErr
	}
	p.n++
	key := fmt.Sprintf("%s/%s_%d.png", folder, strings.TrimSuffix(filename, ".png"), p.n)
	p.uploads = append(p.uploads, key)
	return &media.UploadResult{PublicID: key, Width: 300, Height: 450, Bytes: int64(len(data)), Format: "png"}, nil
}

func (p *fakeProvider) Delete(ctx context.Context, publicID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, publicID)
	return p.deleteErr
}

func (p *fakeProvider) BuildURL(publicID string, t *models.Transformation) string {
	return p.urls.Build(publicID, t)
}

func (p *fakeProvider) GetDetails(ctx context.Context, publicID string) (*media.AssetDetails, error) {
	return &media.AssetDetails{PublicID: publicID}, nil
}

func (p *fakeProvider) uploaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.uploads...)
}

func (p *fakeProvider) deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deletes...)
}

type fakeMovies struct {
	mu     sync.Mutex
	ids    map[uuid.UUID]bool
	err    error
	checks int
}

func newFakeMovies(ids ...uuid.UUID) *fakeMovies {
	m := &fakeMovies{ids: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		m.ids[id] = true
	}
	return m
}

func (m *fakeMovies) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.err != nil {
		return false, m.err
	}
	return m.ids[id], nil
}

func (m *fakeMovies) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
}

// flakyRepo wraps a working repository and fails selected writes.
type flakyRepo struct {
	images.Repository
	createErr     error
	updateErr     error
	deleteErr     error
	setPrimaryErr error

	mu        sync.Mutex
	getAllErr error
	// afterGet runs once, between a GetByID read and its return.
	afterGet  func()
}

func (r *flakyRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MovieImage, error) {
	img, err := r.Repository.GetByID(ctx, id)
	r.mu.Lock()
	hook := r.afterGet
	r.afterGet = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return img, err
}

func (r *flakyRepo) failGetAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getAllErr = err
}

func (r *flakyRepo) Create(ctx context.Context, img *models.MovieImage) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.Repository.Create(ctx, img)
}

func (r *flakyRepo) Update(ctx context.Context, img *models.MovieImage) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.Repository.Update(ctx, img)
}

func (r *flakyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.Repository.Delete(ctx, id)
}

func (r *flakyRepo) SetPrimary(ctx context.Context, imageID, movieID uuid.UUID) error {
	if r.setPrimaryErr != nil {
		return r.setPrimaryErr
	}
	return r.Repository.SetPrimary(ctx, imageID, movieID)
}

func (r *flakyRepo) GetAll(ctx context.Context) ([]*models.MovieImage, error) {
	r.mu.Lock()
	err := r.getAllErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Repository.GetAll(ctx)
}

// brokenCache fails every call.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errCacheDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Remove(context.Context, string) error          { return errCacheDown }
func (brokenCache) RemoveByPattern(context.Context, string) error { return errCacheDown }

type harness struct {
	svc      *ImageService
	repo     *flakyRepo
	store    *images.MemoryRepository
	provider *fakeProvider
	movies   *fakeMovies
	cache    *cache.MemoryStore
	movieID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	movieID := uuid.New()
	h := &harness{
		store:    images.NewMemoryRepository(),
		provider: newFakeProvider(),
		movies:   newFakeMovies(movieID),
		cache:    cache.NewMemoryStore(cache.DefaultKeyPrefix, time.Minute),
		movieID:  movieID,
	}
	h.repo = &flakyRepo{Repository: h.store}
	h.svc = NewImageService(h.repo, h.movies, h.provider, h.cache, logging.Nop(),
		WithClock(func() time.Time { return fixedNow }))
	return h
}

func uploadReq(movieID uuid.UUID, name string) *UploadRequest {
	return &UploadRequest{
		MovieID:     movieID,
		File:        strings.NewReader("pixels of " + name),
		FileName:    name + ".png",
		ContentType: "image/png",
		AltText:     "alt " + name,
	}
}

func (h *harness) upload(t *testing.T, name string, primary bool) *models.MovieImage {
	t.Helper()
	req := uploadReq(h.movieID, name)
	req.IsPrimary = primary
	img, err := h.svc.UploadImage(context.Background(), req)
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return img
}

func (h *harness) primaries(t *testing.T, movieID uuid.UUID) []uuid.UUID {
	t.Helper()
	list, err := h.store.GetByMovieID(context.Background(), movieID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []uuid.UUID
	for _, img := range list {
		if img.IsPrimary {
			ids = append(ids, img.ID)
		}
	}
	return ids
}
