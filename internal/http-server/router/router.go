package router

import (
	"net/http"

	"image-store/internal/http-server/handler/admin"
	"image-store/internal/http-server/handler/image"
	"image-store/internal/http-server/handler/job"
	"image-store/internal/http-server/middleware"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	ImageHandler *image.ImageHandler
	AdminHandler *admin.AdminHandler
}

func base() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	return r
}

// SetupRouter serves camera uploads and the admin API.
func SetupRouter(h *Handler) http.Handler {
	r := base()

	r.Post("/images/{version}/{camera}", h.ImageHandler.UploadImage)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.AdminHandler.Health)
		r.Get("/queue", h.AdminHandler.QueueStats)
		r.Get("/cameras", h.AdminHandler.Cameras)
		r.Post("/catalog/reconcile", h.AdminHandler.Reconcile)
	})

	return r
}

// SetupProcessorRouter serves the thumbnail processor job endpoint.
func SetupProcessorRouter(jobPath string, h *job.JobHandler) http.Handler {
	r := base()

	r.Post(jobPath, h.ProcessJob)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
