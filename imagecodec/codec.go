package imagecodec

import (
	"errors"
	"image"
	"path"
	"strings"
)

var ErrDecode = errors.New("image decode failed")

// OpenedImage is a decoded picture as interleaved 8-bit RGBA.
type OpenedImage struct {
	Pix    []byte
	Width  int
	Height int
}

func (o OpenedImage) Empty() bool {
	return o.Width == 0 || o.Height == 0
}

// RGBA shares Pix with the returned image.
func (o OpenedImage) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    o.Pix,
		Stride: o.Width * 4,
		Rect:   image.Rect(0, 0, o.Width, o.Height),
	}
}

// Codec decodes and scales page images. The pipeline only talks to this
// interface, the pure Go Std codec is the default.
type Codec interface {
	// Sniff reports whether data starts with a header of a supported image format.
	Sniff(data []byte) bool
	Decode(data []byte) (OpenedImage, error)
	// Resize scales to exactly width x height.
	Resize(img OpenedImage, width, height int) (OpenedImage, error)
}

var imageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// HasImageExt reports whether the name carries a known image extension.
func HasImageExt(name string) bool {
	return imageExt[strings.ToLower(path.Ext(name))]
}

// FitWithin returns the largest size with the source aspect ratio that fits
// into maxW x maxH. It never upscales; a zero bound leaves that axis free.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1 {
		return w, h
	}
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}

// Thumbnail scales img to fit into maxW x maxH keeping its aspect ratio.
func Thumbnail(c Codec, img OpenedImage, maxW, maxH int) (OpenedImage, error) {
	w, h := FitWithin(img.Width, img.Height, maxW, maxH)
	if w == img.Width && h == img.Height {
		return img, nil
	}
	return c.Resize(img, w, h)
}
