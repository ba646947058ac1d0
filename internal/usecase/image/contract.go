package image

import (
	"context"

	"image-store/internal/domain"
)

type imageCatalog interface {
	StoreImage(ctx context.Context, meta domain.UploadMetadata, data []byte) (*domain.ImageRecord, error)
}

type mediaTypeSource interface {
	MediaTypes() (map[string]domain.MediaType, error)
}
