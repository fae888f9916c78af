package vision

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"parking-checkin/internal/domain/checkin"
)

// Preprocessor reduces a camera frame to the band where a plate is expected.
// Pixels are passed through unfiltered.
type Preprocessor struct {
	widthFraction  float64
	heightFraction float64
}

func NewPreprocessor(widthFraction, heightFraction float64) *Preprocessor {
	return &Preprocessor{
		widthFraction:  widthFraction,
		heightFraction: heightFraction,
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Region returns the centered crop rectangle for a frame of the given size,
// relative to a zero origin.
func (p *Preprocessor) Region(width, height int) image.Rectangle {
	cw := scale(width, p.widthFraction)
	ch := scale(height, p.heightFraction)
	x0 := (width - cw) / 2
	y0 := (height - ch) / 2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

func scale(n int, fraction float64) int {
	v := int(math.Round(float64(n) * fraction))
	if v < 1 {
		v = 1
	}
	if v > n {
		v = n
	}
	return v
}

// Preprocess crops the frame. The result keeps the frame's pixel format
// whenever the image supports SubImage, which all stdlib image types do.
func (p *Preprocessor) Preprocess(frame *checkin.Frame) (image.Image, error) {
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("%w: empty frame", checkin.ErrInvalidFrame)
	}
	bounds := frame.Image.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", checkin.ErrInvalidFrame, bounds.Dx(), bounds.Dy())
	}

	rect := p.Region(bounds.Dx(), bounds.Dy()).Add(bounds.Min)

	if si, ok := frame.Image.(subImager); ok {
		return si.SubImage(rect), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, frame.Image, rect, draw.Src, nil)
	return dst, nil
}
