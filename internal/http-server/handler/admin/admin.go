package admin

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"image-store/internal/http-server/dto"
	"image-store/internal/http-server/handler/render"

	"github.com/wb-go/wbf/zlog"
)

type AdminHandler struct {
	queue   queueStats
	catalog catalogAdmin
	schema  schemaSource
	logger  *zlog.Zerolog

	// one sweep at a time
	reconciling sync.Mutex
}

func NewAdminHandler(queue queueStats, catalog catalogAdmin, schema schemaSource, logger *zlog.Zerolog) *AdminHandler {
	return &AdminHandler{
		queue:   queue,
		catalog: catalog,
		schema:  schema,
		logger:  logger,
	}
}

func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, h.logger, http.StatusOK, h.queue.Stats())
}

// Reconcile runs a catalog correction sweep and returns its report. The
// sweep outlives a disconnected client and the server write timeout.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.reconciling.TryLock() {
		render.Error(w, h.logger, http.StatusConflict, "reconciliation already running", nil)
		return
	}
	defer h.reconciling.Unlock()

	// not supported by every writer; the sweep still completes
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	report, err := h.catalog.CorrectImages(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("Reconciliation aborted")
		render.Error(w, h.logger, http.StatusInternalServerError, "reconciliation aborted", err)
		return
	}
	render.JSON(w, h.logger, http.StatusOK, report)
}

func (h *AdminHandler) Cameras(w http.ResponseWriter, r *http.Request) {
	cameras, err := h.catalog.Cameras(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list cameras")
		render.Error(w, h.logger, http.StatusInternalServerError, "failed to list cameras", nil)
		return
	}
	sort.Strings(cameras)
	if cameras == nil {
		cameras = []string{}
	}
	render.JSON(w, h.logger, http.StatusOK, dto.CamerasResponse{Cameras: cameras})
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	version, err := h.schema.SchemaVersion()
	if err != nil {
		render.JSON(w, h.logger, http.StatusServiceUnavailable, dto.HealthResponse{Status: "starting"})
		return
	}
	render.JSON(w, h.logger, http.StatusOK, dto.HealthResponse{Status: "ok", SchemaVersion: version})
}
