package api

import (
	"net/http"
	"strconv"

	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/service"
)

// HandleListLive returns a handler for GET /api/v1/live.
func HandleListLive(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"views": h.Session().LiveNames()})
	}
}

// HandleLiveFrame returns a handler for GET /api/v1/live/{name}.
func HandleLiveFrame(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, err := h.LiveFrame(PathParam(r, "name"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, frame)
	}
}

// HandleLiveChart returns a handler for GET /api/v1/live/{name}/chart.png.
func HandleLiveChart(h *service.Harness, charts *render.ChartCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := PathParam(r, "name")
		frame, err := h.LiveFrame(name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		png, hit, err := charts.LivePNG(name, frame)
		if err != nil {
			writeServiceError(w, &service.ServiceError{Code: "INTERNAL", Message: "render chart: " + err.Error(), Err: err})
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Tagscope-Tick", strconv.FormatUint(frame.Tick, 10))
		w.Header().Set("X-Tagscope-Cache", cacheStatus(hit))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}

func cacheStatus(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
