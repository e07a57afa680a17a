package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/service"
	"github.com/Resinat/Tagscope/internal/session"
)

type acquireRequest struct {
	ExposureMs            *int `json:"exposure_ms"`
	CoincidenceWindowBins *int `json:"coincidence_window_bins"`
}

// HandleAcquire returns a handler for POST /api/v1/actions/acquire.
// Omitted fields fall back to the configured defaults.
func HandleAcquire(h *service.Harness, exposureMs, coincWindowBins int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req acquireRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		exp, bins := exposureMs, coincWindowBins
		if req.ExposureMs != nil {
			exp = *req.ExposureMs
		}
		if req.CoincidenceWindowBins != nil {
			bins = *req.CoincidenceWindowBins
		}
		res, err := h.Acquire(r.Context(), exp, bins)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

type sweepRequest struct {
	ExposureMs           *int      `json:"exposure_ms"`
	CoincidenceWindowsNs []float64 `json:"coincidence_windows_ns"`
	Settle               string    `json:"settle"`
}

type sweepPointResponse struct {
	WindowNs              float64 `json:"window_ns"`
	CoincidenceWindowBins int     `json:"coincidence_window_bins"`
	RunID                 string  `json:"run_id"`
	Path                  string  `json:"path"`
	Digest                string  `json:"digest"`
}

// HandleSweep returns a handler for POST /api/v1/actions/sweep.
// The request blocks until every point has been written.
func HandleSweep(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sweepRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		p := plan.Default()
		if req.ExposureMs != nil {
			p.ExposureMs = *req.ExposureMs
		}
		if req.CoincidenceWindowsNs != nil {
			p.CoincidenceWindowsNs = req.CoincidenceWindowsNs
		}
		if req.Settle != "" {
			d, err := time.ParseDuration(req.Settle)
			if err != nil {
				writeInvalidArgument(w, fmt.Sprintf("settle: %v", err))
				return
			}
			p.Settle = plan.Duration(d)
		}

		points := make([]sweepPointResponse, 0, len(p.CoincidenceWindowsNs))
		sweepID, err := h.Sweep(r.Context(), p, func(res service.SweepResult) {
			points = append(points, sweepPointResponse{
				WindowNs:              res.Point.WindowNs,
				CoincidenceWindowBins: res.Point.Acquisition.CoincidenceWindowBins,
				RunID:                 res.Run.ID,
				Path:                  res.Export.Path,
				Digest:                res.Export.Digest,
			})
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"sweep_id": sweepID,
			"points":   points,
		})
	}
}

// HandleHBT returns a handler for POST /api/v1/actions/hbt.
func HandleHBT(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.HBT(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

type hg2Request struct {
	Idler    *int   `json:"idler"`
	Channel1 *int   `json:"channel1"`
	Channel2 *int   `json:"channel2"`
	BinWidth *int   `json:"bin_width"`
	BinCount *int   `json:"bin_count"`
	Wait     string `json:"wait"`
}

func (req hg2Request) apply(p session.Hg2Params) (session.Hg2Params, error) {
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&p.Idler, req.Idler)
	setInt(&p.Channel1, req.Channel1)
	setInt(&p.Channel2, req.Channel2)
	setInt(&p.BinWidth, req.BinWidth)
	setInt(&p.BinCount, req.BinCount)
	if req.Wait != "" {
		d, err := time.ParseDuration(req.Wait)
		if err != nil {
			return p, fmt.Errorf("wait: %v", err)
		}
		if d < 0 {
			return p, fmt.Errorf("wait: must be non-negative")
		}
		p.Wait = d
	}
	return p, nil
}

// HandleCaptureHg2 returns a handler for POST /api/v1/actions/hg2.
// The body is optional; present fields override the configured parameters.
func HandleCaptureHg2(h *service.Harness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hg2Request
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		p, err := req.apply(h.Hg2Defaults())
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		res, err := h.CaptureHg2(r.Context(), p)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
