package operations

import (
	"fmt"
	"image"

	"image-store/internal/domain"

	xdraw "golang.org/x/image/draw"
)

type Thumbnailer struct{}

func NewThumbnailer() *Thumbnailer {
	return &Thumbnailer{}
}

// Apply fits img into a size x size square, or fills the square exactly
// from a centred crop when crop_to_fit is set.
func (t *Thumbnailer) Apply(img image.Image, cmd domain.JobCommand) (image.Image, error) {
	size, _ := intParam(cmd, domain.ParamSize, domain.DefaultThumbnailSize)
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidDimensions)
	}

	if boolParam(cmd, domain.ParamCropToFit) {
		return cropSquare(img, size), nil
	}

	w, h := fitWithin(img.Bounds(), size, size)
	return scale(img, w, h), nil
}

func cropSquare(img image.Image, size int) image.Image {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, image.Rect(x0, y0, x0+side, y0+side), xdraw.Over, nil)
	return dst
}
