package api

import (
	"net/http"

	"github.com/Resinat/Tagscope/internal/service"
	"github.com/Resinat/Tagscope/internal/store"
)

// HandleListRuns returns a handler for GET /api/v1/runs.
func HandleListRuns(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		sweepID := q.Get("sweep_id")
		if sweepID != "" && !ValidateUUID(sweepID) {
			writeInvalidArgument(w, "sweep_id: must be a valid UUID")
			return
		}
		runs, total, err := h.ListRuns(r.Context(), store.ListFilter{
			Kind:    store.Kind(q.Get("kind")),
			SweepID: sweepID,
			Limit:   pg.Limit,
			Offset:  pg.Offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WritePage(w, runs, total, pg)
	}
}

// HandleGetRun returns a handler for GET /api/v1/runs/{id}.
func HandleGetRun(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "id")
		if !ok {
			return
		}
		detail, err := h.GetRun(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

// HandleDeleteRun returns a handler for DELETE /api/v1/runs/{id}.
func HandleDeleteRun(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "id")
		if !ok {
			return
		}
		if err := h.DeleteRun(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
