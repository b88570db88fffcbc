package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	titleJunk   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	titleSpaces = regexp.MustCompile(`\s+`)
	longNumbers = regexp.MustCompile(`\d{5,}`)
	slugJunk    = regexp.MustCompile(`[^\p{L}\p{N} _-]`)
)

// Movie is the owner of images. Only the fields the image lifecycle needs
// are modelled.
type Movie struct {
	ID            uuid.UUID
	Title         string
	Slug          string
	YearOfRelease int
	Genres        []string
	CreatedAt     time.Time
}

// NewMovie builds a movie with a cleaned title and a derived slug.
func NewMovie(title string, year int, genres []string) *Movie {
	m := &Movie{
		ID:            uuid.New(),
		Title:         CleanTitle(title),
		YearOfRelease: year,
		Genres:        genres,
	}
	m.Slug = Slug(m.Title, year)
	return m
}

// CleanTitle strips punctuation, collapses whitespace and drops digit runs
// of five or more characters.
func CleanTitle(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	cleaned := titleJunk.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(titleSpaces.ReplaceAllString(cleaned, " "))
	return longNumbers.ReplaceAllString(cleaned, "")
}

// Slug returns the URL slug for a title and release year, e.g.
// "The Matrix" + 1999 -> "the-matrix-1999".
func Slug(title string, year int) string {
	s := strings.TrimSpace(slugJunk.ReplaceAllString(title, ""))
	s = strings.ToLower(strings.ReplaceAll(s, " ", "-"))
	return fmt.Sprintf("%s-%d", s, year)
}
