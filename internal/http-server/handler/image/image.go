package image

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"image-store/internal/http-server/dto"
	"image-store/internal/http-server/handler/render"
	"image-store/internal/repository/catalog"
	image_uc "image-store/internal/usecase/image"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

type ImageHandler struct {
	usecase       imageUsecase
	validate      *validator.Validate
	maxUploadSize int64
	logger        *zlog.Zerolog
}

func NewImageHandler(usecase imageUsecase, maxUploadSize int64, logger *zlog.Zerolog) *ImageHandler {
	return &ImageHandler{
		usecase:       usecase,
		validate:      validator.New(),
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// UploadImage handles POST /images/{version}/{camera}. The body is the raw
// image; Content-Type selects the stored format.
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	path := dto.UploadPath{
		Version: chi.URLParam(r, "version"),
		Camera:  chi.URLParam(r, "camera"),
	}
	if err := h.validate.Struct(path); err != nil {
		h.logger.Warn().Err(err).Str("version", path.Version).Str("camera", path.Camera).Msg("Invalid upload path")
		render.Error(w, h.logger, http.StatusBadRequest, ErrInvalidPath.Error(), err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Error(w, h.logger, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("image larger than %d bytes", tooLarge.Limit), nil)
			return
		}
		h.logger.Warn().Err(err).Str("camera", path.Camera).Msg("Failed to read upload")
		render.Error(w, h.logger, http.StatusBadRequest, "failed to read body", nil)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if _, err := h.usecase.UploadImage(r.Context(), path.Version, path.Camera, contentType, data); err != nil {
		h.handleUploadError(w, err, path.Camera, contentType)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ImageHandler) handleUploadError(w http.ResponseWriter, err error, camera, contentType string) {
	switch {
	case errors.Is(err, image_uc.ErrUnsupportedMediaType):
		h.logger.Warn().Str("camera", camera).Str("content_type", contentType).Msg("Unsupported media type")
		render.Error(w, h.logger, http.StatusUnsupportedMediaType, "unsupported media type", nil)
	case errors.Is(err, image_uc.ErrEmptyImage):
		render.Error(w, h.logger, http.StatusBadRequest, "empty image", nil)
	case errors.Is(err, catalog.ErrInvalidCamera):
		h.logger.Warn().Err(err).Str("camera", camera).Msg("Camera outside images path")
		render.Error(w, h.logger, http.StatusBadRequest, ErrInvalidPath.Error(), nil)
	default:
		h.logger.Error().Err(err).Str("camera", camera).Msg("Upload failed")
		render.Error(w, h.logger, http.StatusInternalServerError, "failed to store image", nil)
	}
}
