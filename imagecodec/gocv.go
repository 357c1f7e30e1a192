//go:build gocv

package imagecodec

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// OpenCV backs decoding and scaling with gocv, built with -tags gocv.
type OpenCV struct {
	Interpolation gocv.InterpolationFlags
}

func NewOpenCV() *OpenCV {
	return &OpenCV{Interpolation: gocv.InterpolationArea}
}

func (o *OpenCV) Sniff(data []byte) bool {
	return NewStd().Sniff(data)
}

func (o *OpenCV) Decode(data []byte) (OpenedImage, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return OpenedImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return OpenedImage{}, fmt.Errorf("%w: opencv returned an empty mat", ErrDecode)
	}
	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(mat, &rgba, gocv.ColorBGRToRGBA)
	return OpenedImage{Pix: rgba.ToBytes(), Width: rgba.Cols(), Height: rgba.Rows()}, nil
}

func (o *OpenCV) Resize(img OpenedImage, width, height int) (OpenedImage, error) {
	if width <= 0 || height <= 0 {
		return OpenedImage{}, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	src, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return OpenedImage{}, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, o.Interpolation)
	return OpenedImage{Pix: dst.ToBytes(), Width: width, Height: height}, nil
}

func Default() Codec {
	return NewOpenCV()
}
