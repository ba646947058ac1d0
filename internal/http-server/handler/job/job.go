package job

import (
	"encoding/json"
	"errors"
	"net/http"

	"image-store/internal/domain"
	"image-store/internal/http-server/handler/render"
	"image-store/internal/usecase/processor"
	"image-store/internal/usecase/processor/operations"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/zlog"
)

const maxJobBody = 1 << 20

type JobHandler struct {
	processor jobProcessor
	validate  *validator.Validate
	logger    *zlog.Zerolog
}

func NewJobHandler(p jobProcessor, logger *zlog.Zerolog) *JobHandler {
	return &JobHandler{
		processor: p,
		validate:  validator.New(),
		logger:    logger,
	}
}

// ProcessJob handles POST /job and answers 200 with the written outputs.
func (h *JobHandler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	var req domain.JobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody)).Decode(&req); err != nil {
		render.Error(w, h.logger, http.StatusBadRequest, "invalid job", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Error(w, h.logger, http.StatusBadRequest, "invalid job", err)
		return
	}

	resp, err := h.processor.Process(r.Context(), req)
	if err != nil {
		h.handleProcessError(w, err, req.Pathname)
		return
	}
	render.JSON(w, h.logger, http.StatusOK, resp)
}

func (h *JobHandler) handleProcessError(w http.ResponseWriter, err error, pathname string) {
	switch {
	case errors.Is(err, processor.ErrSourceMissing):
		render.Error(w, h.logger, http.StatusNotFound, "source image not found", err)
	case errors.Is(err, processor.ErrDecode),
		errors.Is(err, processor.ErrInvalidCommand),
		errors.Is(err, processor.ErrUnsupportedOperation),
		errors.Is(err, processor.ErrUnsupportedFormat),
		errors.Is(err, operations.ErrInvalidDimensions):
		h.logger.Warn().Err(err).Str("pathname", pathname).Msg("Job rejected")
		render.Error(w, h.logger, http.StatusUnprocessableEntity, "job cannot be processed", err)
	default:
		h.logger.Error().Err(err).Str("pathname", pathname).Msg("Job failed")
		render.Error(w, h.logger, http.StatusInternalServerError, "job failed", nil)
	}
}
