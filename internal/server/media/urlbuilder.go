package media

import (
	"strconv"
	"strings"

	"github.com/dmitrijs2005/movies/internal/server/models"
)

// URLBuilder renders delivery URLs as <base>/<segment>/<publicID>, where the
// segment is omitted for the original.
type URLBuilder struct {
	base string
}

func NewURLBuilder(base string) URLBuilder {
	return URLBuilder{base: strings.TrimRight(base, "/")}
}

func (b URLBuilder) Build(publicID string, t *models.Transformation) string {
	publicID = strings.TrimLeft(publicID, "/")
	if t == nil {
		return b.base + "/" + publicID
	}
	seg := Segment(*t)
	if seg == "" {
		return b.base + "/" + publicID
	}
	return b.base + "/" + seg + "/" + publicID
}

// Segment encodes t as comma separated directives, e.g.
// w_300,h_450,c_fill,g_face,q_auto,f_webp. Zero fields are skipped.
func Segment(t models.Transformation) string {
	parts := make([]string, 0, 6)
	if t.Width > 0 {
		parts = append(parts, "w_"+strconv.Itoa(t.Width))
	}
	if t.Height > 0 {
		parts = append(parts, "h_"+strconv.Itoa(t.Height))
	}
	if t.Crop != "" {
		parts = append(parts, "c_"+t.Crop)
	}
	if t.Gravity != "" {
		parts = append(parts, "g_"+t.Gravity)
	}
	if t.Quality != "" {
		parts = append(parts, "q_"+t.Quality)
	}
	if t.Format != "" {
		parts = append(parts, "f_"+t.Format)
	}
	return strings.Join(parts, ",")
}
