// Package render writes JSON responses for the HTTP handlers.
package render

import (
	"encoding/json"
	"net/http"

	"image-store/internal/http-server/dto"

	"github.com/wb-go/wbf/zlog"
)

func JSON(w http.ResponseWriter, logger *zlog.Zerolog, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}

// Error writes dto.ErrorResponse. err, when given, is exposed as details.
func Error(w http.ResponseWriter, logger *zlog.Zerolog, status int, message string, err error) {
	resp := dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	JSON(w, logger, status, resp)
}
