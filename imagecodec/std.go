package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	stddraw "image/draw"
	"image/png"
	"io"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Std decodes with the image package registry and scales with x/image/draw.
type Std struct {
	Scaler draw.Scaler
}

func NewStd() *Std {
	return &Std{Scaler: draw.CatmullRom}
}

func (s *Std) Sniff(data []byte) bool {
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}

func (s *Std) Decode(data []byte) (OpenedImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return OpenedImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return OpenedImage{}, fmt.Errorf("%w: empty bounds", ErrDecode)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(rgba, rgba.Rect, img, b.Min, stddraw.Src)
	return OpenedImage{Pix: rgba.Pix, Width: b.Dx(), Height: b.Dy()}, nil
}

func (s *Std) Resize(img OpenedImage, width, height int) (OpenedImage, error) {
	if width <= 0 || height <= 0 {
		return OpenedImage{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	if img.Width == width && img.Height == height {
		return img, nil
	}
	scaler := s.Scaler
	if scaler == nil {
		scaler = draw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scaler.Scale(dst, dst.Rect, img.RGBA(), image.Rect(0, 0, img.Width, img.Height), draw.Src, nil)
	return OpenedImage{Pix: dst.Pix, Width: width, Height: height}, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img OpenedImage) error {
	return png.Encode(w, img.RGBA())
}
