package api

import (
	"net/http"

	"github.com/Resinat/Tagscope/internal/service"
)

// HandleDevice returns a handler for GET /api/v1/device.
func HandleDevice(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.Describe(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}
