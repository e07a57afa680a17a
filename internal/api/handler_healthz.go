package api

import (
	"context"
	"net/http"
	"time"
)

const healthzTimeout = 2 * time.Second

// HandleHealthz returns a handler for GET /healthz. No authentication is
// required. With a ping it also reports whether the device answers, and
// answers 503 when it does not.
func HandleHealthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping == nil {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"device": err.Error(),
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "device": "ok"})
	}
}
