package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"   ":                    "",
		"The  Matrix!":           "The Matrix",
		"Amélie (2001)":          "Amélie 2001",
		"Room 123456 Mystery":    "Room  Mystery",
		"  Spaced\tOut\nTitle  ": "Spaced Out Title",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanTitle(in), "input %q", in)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "the-matrix-1999", Slug("The Matrix", 1999))
	assert.Equal(t, "spider-man_2-2004", Slug("Spider-Man_2", 2004))
	assert.Equal(t, "amélie-2001", Slug("Amélie!", 2001))
}

func TestNewMovie(t *testing.T) {
	m := NewMovie("Blade Runner: 2049", 2017, []string{"sci-fi"})

	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, "Blade Runner 2049", m.Title)
	assert.Equal(t, "blade-runner-2049-2017", m.Slug)
	assert.Equal(t, []string{"sci-fi"}, m.Genres)
}

func TestMovieImage_Clone(t *testing.T) {
	now := time.Now()
	orig := &MovieImage{ID: uuid.New(), AltText: "a", UpdatedAt: &now}

	c := orig.Clone()
	require.NotSame(t, orig, c)
	require.NotSame(t, orig.UpdatedAt, c.UpdatedAt)
	c.AltText = "b"
	assert.Equal(t, "a", orig.AltText)

	var nilImg *MovieImage
	assert.Nil(t, nilImg.Clone())
}

func TestPresets(t *testing.T) {
	assert.Equal(t, Transformation{Width: 300, Height: 450, Quality: "auto", Format: "webp", Crop: "fill", Gravity: "face"}, Thumbnail)
	assert.Equal(t, 600, Medium.Width)
	assert.Equal(t, 1800, Large.Height)
}
