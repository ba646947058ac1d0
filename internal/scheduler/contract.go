package scheduler

import (
	"context"

	"image-store/internal/domain"
)

type PhotoStore interface {
	CameraExists(ctx context.Context, name string) (bool, error)
	CreatePhoto(ctx context.Context, p domain.Photo) (int64, error)
	ThumbnailSpecs() (map[string]domain.ThumbnailSpec, error)
	MediaTypeByExtension(ext string) (domain.MediaType, error)
}

type ImageCatalog interface {
	RemoveImage(ctx context.Context, key string) error
}

type Publisher interface {
	PublishPhotoCreated(ctx context.Context, event domain.PhotoCreated) error
}
