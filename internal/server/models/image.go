// Package models defines server-side data models persisted in the database
// and cached in the distributed cache.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MovieImage is the persisted record of one remote image asset belonging to
// a movie. At most one image per movie has IsPrimary set.
type MovieImage struct {
	ID      uuid.UUID `json:"id"`
	MovieID uuid.UUID `json:"movie_id"`
	// PublicID is the media provider's key for the asset. It is unique.
	PublicID string `json:"public_id"`

	OriginalURL  string `json:"original_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	MediumURL    string `json:"medium_url"`
	LargeURL     string `json:"large_url"`

	// AltText is optional; empty means none.
	AltText string `json:"alt_text"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	// Size is the stored asset size in bytes.
	Size      int64      `json:"size"`
	Format    string     `json:"format"`
	IsPrimary bool       `json:"is_primary"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate it freely.
func (m *MovieImage) Clone() *MovieImage {
	if m == nil {
		return nil
	}
	c := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}
