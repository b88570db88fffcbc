// Package media talks to the remote image store. Assets are addressed by a
// public id (the object key) and delivered through URLs that carry an
// optional transformation segment.
package media

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dmitrijs2005/movies/internal/server/models"
)

var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrFileTooLarge      = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrImageTooLarge     = errors.New("image dimensions exceed the maximum")
)

// UploadOptions are optional hints for the stored rendition. Width and
// Height bound the stored image; zero means keep the original size.
type UploadOptions struct {
	Width   int
	Height  int
	Quality string
	Format  string
}

type UploadResult struct {
	PublicID string
	Width    int
	Height   int
	Bytes    int64
	Format   string
}

type AssetDetails struct {
	PublicID     string
	Width        int
	Height       int
	Bytes        int64
	Format       string
	ContentType  string
	ETag         string
	LastModified time.Time
}

type Provider interface {
	Upload(ctx context.Context, r io.Reader, filename, folder string, opts UploadOptions) (*UploadResult, error)
	// Delete removes the asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, publicID string) error
	// BuildURL returns the delivery URL of the asset, transformed when t is not nil.
	BuildURL(publicID string, t *models.Transformation) string
	// GetDetails returns common.ErrNotFound when the asset does not exist.
	GetDetails(ctx context.Context, publicID string) (*AssetDetails, error)
}
