package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// allowedMIMEs maps accepted content types to the stored extension.
var allowedMIMEs = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

const defaultJPEGQuality = 85

// MaxImagePixels bounds width x height of accepted images so that decoding a
// small file cannot allocate an arbitrarily large bitmap.
const MaxImagePixels = 50_000_000

var unsafeName = regexp.MustCompile(`[^a-z0-9_-]+`)

type imageInfo struct {
	mime   string
	ext    string
	width  int
	height int
}

// inspect sniffs the content type of data and reads its dimensions.
func inspect(data []byte) (imageInfo, error) {
	mt := mimetype.Detect(data)
	mime := strings.SplitN(mt.String(), ";", 2)[0]
	ext, ok := allowedMIMEs[mime]
	if !ok {
		return imageInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return imageInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return imageInfo{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	return imageInfo{mime: mime, ext: ext, width: cfg.Width, height: cfg.Height}, nil
}

// fitWithin scales w x h down to fit maxW x maxH keeping the aspect ratio.
// A zero bound is unconstrained.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale == 1.0 {
		return w, h
	}
	nw := int(math.Max(1, math.Round(float64(w)*scale)))
	nh := int(math.Max(1, math.Round(float64(h)*scale)))
	return nw, nh
}

func jpegQuality(q string) int {
	n, err := strconv.Atoi(q)
	if err != nil || n < 1 || n > 100 {
		return defaultJPEGQuality
	}
	return n
}

// targetExt resolves the requested output format. Only jpeg and png can be
// re-encoded; anything else keeps the source format.
func targetExt(src, requested string) string {
	switch strings.ToLower(requested) {
	case "jpg", "jpeg":
		if src == "png" {
			return "jpg"
		}
	case "png":
		if src == "jpg" {
			return "png"
		}
	}
	return src
}

// render applies the size and format hints to jpeg and png sources. Other
// formats and images already within bounds are returned unchanged.
func render(data []byte, info imageInfo, opts UploadOptions) ([]byte, imageInfo, error) {
	if info.ext == "webp" {
		return data, info, nil
	}
	ext := targetExt(info.ext, opts.Format)
	w, h := fitWithin(info.width, info.height, opts.Width, opts.Height)
	if ext == info.ext && w == info.width && h == info.height {
		return data, info, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, info, fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	out := imageInfo{ext: ext, width: w, height: h}
	switch ext {
	case "jpg":
		out.mime = "image/jpeg"
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality(opts.Quality)})
	default:
		out.mime = "image/png"
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, info, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), out, nil
}

// baseName turns an uploaded file name into a safe key fragment.
func baseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(name) > 64 {
		name = strings.TrimRight(name[:64], "-")
	}
	if name == "" || name == "." {
		return "image"
	}
	return name
}
