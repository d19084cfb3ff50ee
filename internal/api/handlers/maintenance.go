package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/stream-gateway/internal/api/openapi"
)

// RunSweep — реализация POST /api/v1/maintenance/sweep.
// Выполняет внеплановую очистку реестра и трекера.
func (h *APIHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	res := h.reaper.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, openapi.SweepResponse{
		FilesRemoved:    res.FilesRemoved,
		RequestsRemoved: res.RequestsRemoved,
		Errors:          res.Errors,
		DurationMs:      res.Duration.Milliseconds(),
	})
}
