package operations

import (
	"errors"
	"fmt"
	"image"

	"image-store/internal/domain"

	xdraw "golang.org/x/image/draw"
)

var ErrInvalidDimensions = errors.New("invalid dimensions")

type Resizer struct{}

func NewResizer() *Resizer {
	return &Resizer{}
}

// Apply scales img to width x height. With keep_aspect the result fits
// inside that box instead, and height may be omitted.
func (r *Resizer) Apply(img image.Image, cmd domain.JobCommand) (image.Image, error) {
	width, ok := intParam(cmd, domain.ParamWidth, 0)
	if !ok || width <= 0 {
		return nil, fmt.Errorf("%w: width is required", ErrInvalidDimensions)
	}
	height, _ := intParam(cmd, domain.ParamHeight, 0)

	if boolParam(cmd, domain.ParamKeepAspect) {
		w, h := fitWithin(img.Bounds(), width, height)
		return scale(img, w, h), nil
	}

	if height <= 0 {
		return nil, fmt.Errorf("%w: height is required without keep_aspect", ErrInvalidDimensions)
	}
	return scale(img, width, height), nil
}

// fitWithin returns the largest size with the aspect ratio of b that fits in
// maxW x maxH. A non-positive maxH leaves the height unbounded.
func fitWithin(b image.Rectangle, maxW, maxH int) (int, int) {
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return maxW, max(maxH, 1)
	}

	nw, nh := maxW, h*maxW/w
	if maxH > 0 && nh > maxH {
		nw, nh = w*maxH/h, maxH
	}
	return max(nw, 1), max(nh, 1)
}

func scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}
