package processor

import (
	"image"

	"image-store/internal/domain"
)

type operation interface {
	Apply(img image.Image, cmd domain.JobCommand) (image.Image, error)
}
