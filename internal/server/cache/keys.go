package cache

import (
	"time"

	"github.com/google/uuid"
)

const (
	ImageTTL       = 24 * time.Hour
	MovieImagesTTL = 12 * time.Hour

	DefaultKeyPrefix = "movies"
)

func ImageKey(imageID uuid.UUID) string {
	return "movie_image:" + imageID.String()
}

func MovieImagesKey(movieID uuid.UUID) string {
	return "movie_image:movie:" + movieID.String() + ":all"
}

// MovieImagesPattern matches every list entry kept for a movie.
func MovieImagesPattern(movieID uuid.UUID) string {
	return "movie_image:movie:" + movieID.String() + ":*"
}
