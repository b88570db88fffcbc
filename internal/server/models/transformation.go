package models

// Transformation describes a derived rendition of a remote image. Values are
// immutable and never persisted; only the URLs they produce are stored.
type Transformation struct {
	Width   int
	Height  int
	Quality string
	Format  string
	Crop    string
	Gravity string
}

const (
	DefaultQuality = "auto"
	DefaultFormat  = "webp"
	DefaultCrop    = "fill"
	DefaultGravity = "face"
)

func preset(width, height int) Transformation {
	return Transformation{
		Width:   width,
		Height:  height,
		Quality: DefaultQuality,
		Format:  DefaultFormat,
		Crop:    DefaultCrop,
		Gravity: DefaultGravity,
	}
}

// Presets used for the stored thumbnail, medium and large URLs.
var (
	Thumbnail = preset(300, 450)
	Medium    = preset(600, 900)
	Large     = preset(1200, 1800)
)
