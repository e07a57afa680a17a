package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"emperror.dev/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/export"
	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/session"
	"github.com/Resinat/Tagscope/internal/store"
)

const (
	// HBTG2Name is the export file of HBT captures.
	HBTG2Name = "HBTG2.txt"
	// Hg2ChartName is the chart written next to heralded g2 exports.
	Hg2ChartName = "HeraldedG2"
)

// Config wires a Harness.
type Config struct {
	Session *session.Session
	// Store persists runs. Nil keeps results in exports only.
	Store     *store.Store
	ExportDir string
	Chart     render.ChartRenderer
	// Hg2 is used by captures that do not bring their own parameters.
	Hg2 session.Hg2Params
}

// Harness runs measurements, exports them and records them as runs.
// Handlers, commands and the scheduler call its methods; business logic
// lives here, not in handlers.
type Harness struct {
	sess      *session.Session
	store     *store.Store
	exportDir string
	chart     render.ChartRenderer
	hg2       session.Hg2Params

	capturing atomic.Bool
	logger    *log.Entry
}

// NewHarness creates a Harness.
func NewHarness(cfg Config) *Harness {
	h := &Harness{
		sess:      cfg.Session,
		store:     cfg.Store,
		exportDir: cfg.ExportDir,
		chart:     cfg.Chart,
		hg2:       cfg.Hg2,
		logger:    log.WithField("component", "harness"),
	}
	if h.exportDir == "" {
		h.exportDir = "."
	}
	if h.chart.Dir == "" {
		h.chart.Dir = h.exportDir
	}
	if h.hg2 == (session.Hg2Params{}) {
		h.hg2 = session.DefaultHg2Params()
	}
	return h
}

// Session returns the underlying session.
func (h *Harness) Session() *session.Session { return h.sess }

// Hg2Defaults returns the parameters used by CaptureHg2 callers that have none.
func (h *Harness) Hg2Defaults() session.Hg2Params { return h.hg2 }

// Describe returns the device settings dump.
func (h *Harness) Describe(ctx context.Context) (device.Report, error) {
	r, err := h.sess.Describe(ctx)
	return r, classify("describe device", err)
}

// Ping reports whether the device answers.
func (h *Harness) Ping(ctx context.Context) error {
	return classify("ping device", h.sess.Ping(ctx))
}

// AcquireResult is one stored acquisition.
type AcquireResult struct {
	Run         store.Run            `json:"run"`
	Acquisition *session.Acquisition `json:"acquisition"`
}

// Acquire takes one acquisition and records it.
func (h *Harness) Acquire(ctx context.Context, exposureMs, coincWindowBins int) (*AcquireResult, error) {
	acq, err := h.sess.Acquire(ctx, exposureMs, coincWindowBins)
	if err != nil {
		return nil, classify("acquire", err)
	}
	run, err := h.persist(ctx, store.Run{
		Kind:                  store.KindCounts,
		CreatedAt:             acq.AcquiredAt,
		ExposureMs:            acq.ExposureMs,
		CoincidenceWindowBins: acq.CoincidenceWindowBins,
		Updates:               acq.Counters.Updates,
		DataLost:              acq.DataLost,
	}, store.RunData{Counters: acq.Counters.Values, Timestamps: &acq.Timestamps})
	if err != nil {
		return nil, err
	}
	return &AcquireResult{Run: run, Acquisition: acq}, nil
}

// SweepResult is one exported and recorded sweep point.
type SweepResult struct {
	Point  session.SweepPoint
	Export export.Result
	Run    store.Run
}

// Sweep runs a coincidence-window sweep, writing one counts file and one run
// per point. It returns the sweep id shared by the runs.
func (h *Harness) Sweep(ctx context.Context, p plan.Sweep, onPoint func(SweepResult)) (string, error) {
	sweepID := uuid.New().String()
	logger := h.logger.WithField("sweep_id", sweepID)
	err := h.sess.Sweep(ctx, p, func(pt session.SweepPoint) error {
		res, err := export.WriteCounts(h.exportDir, pt.WindowNs, pt.Acquisition)
		if err != nil {
			return internal("export sweep point", err)
		}
		acq := pt.Acquisition
		run, err := h.persist(ctx, store.Run{
			Kind:                  store.KindSweepPoint,
			SweepID:               sweepID,
			CreatedAt:             acq.AcquiredAt,
			ExposureMs:            acq.ExposureMs,
			CoincidenceWindowBins: acq.CoincidenceWindowBins,
			WindowNs:              pt.WindowNs,
			Updates:               acq.Counters.Updates,
			DataLost:              acq.DataLost,
			ExportPath:            res.Path,
			Digest:                res.Digest,
		}, store.RunData{Counters: acq.Counters.Values, Timestamps: &acq.Timestamps})
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"window_ns": pt.WindowNs,
			"path":      res.Path,
		}).Info("sweep point written")
		if onPoint != nil {
			onPoint(SweepResult{Point: pt, Export: res, Run: run})
		}
		return nil
	})
	if err != nil {
		return sweepID, classify("sweep", err)
	}
	return sweepID, nil
}

// G2Result is one recorded correlation function.
type G2Result struct {
	Run       store.Run     `json:"run"`
	Values    export.Floats `json:"values"`
	Export    export.Result `json:"export"`
	ChartPath string        `json:"chart_path,omitempty"`
}

// HBT computes, exports and records the HBT g2.
func (h *Harness) HBT(ctx context.Context) (*G2Result, error) {
	values, err := h.sess.HBTG2(ctx)
	if err != nil {
		return nil, classify("hbt g2", err)
	}
	res, err := export.WriteG2(h.exportDir, HBTG2Name, values)
	if err != nil {
		return nil, internal("export hbt g2", err)
	}
	run, err := h.persist(ctx, store.Run{
		Kind:       store.KindHBTG2,
		ExportPath: res.Path,
		Digest:     res.Digest,
	}, store.RunData{G2: values})
	if err != nil {
		return nil, err
	}
	return &G2Result{Run: run, Values: values, Export: res}, nil
}

// CaptureHg2 integrates a heralded g2, exports it with a chart and records
// it. Only one capture runs at a time; a concurrent call fails with CONFLICT.
func (h *Harness) CaptureHg2(ctx context.Context, p session.Hg2Params) (*G2Result, error) {
	if !h.capturing.CompareAndSwap(false, true) {
		return nil, conflict("a heralded g2 capture is already running")
	}
	defer h.capturing.Store(false)

	values, err := h.sess.HeraldedG2(ctx, p)
	if err != nil {
		return nil, classify("heralded g2", err)
	}
	res, err := export.WriteG2(h.exportDir, export.DefaultG2Name, values)
	if err != nil {
		return nil, internal("export heralded g2", err)
	}

	out := &G2Result{Values: values, Export: res}
	title := fmt.Sprintf("Integration time ~ %gs", p.Wait.Seconds())
	if png, err := h.chart.G2Chart(values, title); err != nil {
		h.logger.WithError(err).Warn("heralded g2 chart failed")
	} else if err := h.chart.WriteFile(Hg2ChartName, png); err != nil {
		h.logger.WithError(err).Warn("heralded g2 chart failed")
	} else {
		out.ChartPath = filepath.Join(h.chart.Dir, Hg2ChartName+".png")
	}

	params, err := json.Marshal(p)
	if err != nil {
		return nil, internal("encode hg2 params", err)
	}
	out.Run, err = h.persist(ctx, store.Run{
		Kind:       store.KindHg2G2,
		Params:     params,
		ExportPath: res.Path,
		Digest:     res.Digest,
	}, store.RunData{G2: values})
	if err != nil {
		return nil, err
	}
	h.logger.WithFields(log.Fields{
		"run_id": out.Run.ID,
		"bins":   len(values),
	}).Info("heralded g2 captured")
	return out, nil
}

// LiveFrame returns the latest frame of a live view.
func (h *Harness) LiveFrame(name string) (render.LiveFrame, error) {
	frame, ok := h.sess.LiveSnapshot(name)
	if !ok {
		return frame, notFound(fmt.Sprintf("live view %q not found", name), nil)
	}
	return frame, nil
}

// ListRuns lists recorded runs.
func (h *Harness) ListRuns(ctx context.Context, f store.ListFilter) ([]store.Run, int, error) {
	if h.store == nil {
		return nil, 0, unavailable("run store disabled")
	}
	if f.Kind != "" && !f.Kind.IsValid() {
		return nil, 0, invalidArg(fmt.Sprintf("kind: unknown run kind %q", f.Kind), nil)
	}
	runs, total, err := h.store.ListRuns(ctx, f)
	if err != nil {
		return nil, 0, classify("list runs", err)
	}
	return runs, total, nil
}

// RunDetail is a run with its bulk data.
type RunDetail struct {
	store.Run
	Counters   []int64            `json:"counters,omitempty"`
	G2         export.Floats      `json:"g2,omitempty"`
	Timestamps *device.Timestamps `json:"timestamps,omitempty"`
}

// GetRun returns one run with its data.
func (h *Harness) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	if h.store == nil {
		return nil, unavailable("run store disabled")
	}
	run, err := h.store.GetRun(ctx, id)
	if err != nil {
		return nil, classify("get run", err)
	}
	detail := &RunDetail{Run: run}
	if detail.Counters, err = h.store.RunCounters(ctx, id); err != nil {
		return nil, classify("get run counters", err)
	}
	if detail.G2, err = h.store.RunG2(ctx, id); err != nil {
		return nil, classify("get run g2", err)
	}
	ts, err := h.store.RunTimestamps(ctx, id)
	if err != nil {
		return nil, classify("get run timestamps", err)
	}
	if ts.Valid > 0 || len(ts.Times) > 0 {
		detail.Timestamps = &ts
	}
	return detail, nil
}

// DeleteRun removes one run.
func (h *Harness) DeleteRun(ctx context.Context, id string) error {
	if h.store == nil {
		return unavailable("run store disabled")
	}
	return classify("delete run", h.store.DeleteRun(ctx, id))
}

func (h *Harness) persist(ctx context.Context, run store.Run, data store.RunData) (store.Run, error) {
	if h.store == nil {
		if run.ID == "" {
			run.ID = uuid.New().String()
		}
		return run, nil
	}
	saved, err := h.store.InsertRun(ctx, run, data)
	if err != nil {
		return run, internal("record run", err)
	}
	return saved, nil
}

// classify maps package errors onto ServiceError codes. Context errors and
// errors that are already classified pass through.
func classify(msg string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, device.ErrInvalidParameter), errors.Is(err, plan.ErrInvalidPlan):
		return invalidArg(msg+": "+err.Error(), err)
	case errors.Is(err, store.ErrNotFound):
		return notFound(msg+": "+err.Error(), err)
	case errors.Is(err, device.ErrClosed):
		return &ServiceError{Code: "UNAVAILABLE", Message: msg + ": " + err.Error(), Err: err}
	default:
		return internal(msg+": "+err.Error(), err)
	}
}
