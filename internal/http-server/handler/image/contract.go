package image

import (
	"context"

	"image-store/internal/domain"
)

type imageUsecase interface {
	UploadImage(ctx context.Context, version, camera, contentType string, data []byte) (*domain.ImageRecord, error)
}
