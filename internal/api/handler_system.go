package api

import (
	"net/http"

	"github.com/Resinat/Tagscope/internal/service"
)

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info service.SystemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info.GetSystemInfo())
	}
}
