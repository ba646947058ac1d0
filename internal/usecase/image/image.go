package image

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"image-store/internal/domain"

	"github.com/wb-go/wbf/zlog"
)

type ImageUsecase struct {
	catalog    imageCatalog
	mediaTypes mediaTypeSource
	logger     *zlog.Zerolog
}

func NewImageUsecase(catalog imageCatalog, mediaTypes mediaTypeSource, logger *zlog.Zerolog) *ImageUsecase {
	return &ImageUsecase{
		catalog:    catalog,
		mediaTypes: mediaTypes,
		logger:     logger,
	}
}

// Format maps a Content-Type header to the file extension registered for it.
func (u *ImageUsecase) Format(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}

	known, err := u.mediaTypes.MediaTypes()
	if err != nil {
		return "", fmt.Errorf("failed to get media types: %w", err)
	}

	mt, ok := known[strings.ToLower(mediaType)]
	if !ok || mt.Extension == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	return mt.Extension, nil
}

// UploadImage stores one camera upload in the catalog, where the importer
// will pick it up.
func (u *ImageUsecase) UploadImage(ctx context.Context, version, camera, contentType string, data []byte) (*domain.ImageRecord, error) {
	format, err := u.Format(contentType)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	rec, err := u.catalog.StoreImage(ctx, domain.UploadMetadata{
		Version: version,
		Camera:  camera,
		Format:  format,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	u.logger.Info().
		Str("key", rec.Key).
		Str("camera", camera).
		Str("event", rec.EventID).
		Int("size", len(data)).
		Msg("Image received")

	return rec, nil
}
