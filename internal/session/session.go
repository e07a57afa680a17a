// Package session owns one time tagger handle and runs every measurement the
// harness offers against it: settings dumps, single acquisitions, sweeps,
// correlation functions and the live count-rate loop.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/render"
)

// Options injects time for tests. Zero values use the wall clock.
type Options struct {
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session serializes access to one device. Windows of live views are owned
// by the goroutine running Live; readers see published frames only.
type Session struct {
	mu  chan struct{}
	dev device.Tagger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// settings counts exposure and window changes so live views know when
	// to re-read the device params.
	settings atomic.Uint64

	views  *xsync.Map[string, render.LiveFrame]
	logger *log.Entry
}

// New wraps an open device.
func New(dev device.Tagger, opts Options) *Session {
	s := &Session{
		mu:     make(chan struct{}, 1),
		dev:    dev,
		now:    opts.Now,
		sleep:  opts.Sleep,
		views:  xsync.NewMap[string, render.LiveFrame](),
		logger: log.WithField("component", "session"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	return s
}

// lock acquires the device or gives up when ctx is done.
func (s *Session) lock(ctx context.Context) error {
	select {
	case s.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() { <-s.mu }

// Describe reads every setting the device reports.
func (s *Session) Describe(ctx context.Context) (device.Report, error) {
	if err := s.lock(ctx); err != nil {
		return device.Report{}, err
	}
	defer s.unlock()

	var (
		r   device.Report
		err error
	)
	if r.CalibrationState, err = s.dev.CalibrationState(); err != nil {
		return r, errors.WrapIf(err, "calibration state")
	}
	if r.TimebaseSeconds, err = s.dev.Timebase(); err != nil {
		return r, errors.WrapIf(err, "timebase")
	}
	if r.BufferSize, err = s.dev.BufferSize(); err != nil {
		return r, errors.WrapIf(err, "buffer size")
	}
	if r.Counters, err = s.dev.CoincCounters(); err != nil {
		return r, errors.WrapIf(err, "coincidence counters")
	}
	if r.Params, err = s.dev.DeviceParams(); err != nil {
		return r, errors.WrapIf(err, "device params")
	}
	if r.EnabledChannels, err = s.dev.ChannelsEnabled(); err != nil {
		return r, errors.WrapIf(err, "enabled channels")
	}
	if r.Clock, err = s.dev.ClockState(); err != nil {
		return r, errors.WrapIf(err, "clock state")
	}
	return r, nil
}

// Acquisition is one exposure worth of counters and timestamps.
type Acquisition struct {
	ExposureMs            int               `json:"exposure_ms"`
	CoincidenceWindowBins int               `json:"coincidence_window_bins"`
	AcquiredAt            time.Time         `json:"acquired_at"`
	Counters              device.CounterSet `json:"counters"`
	DataLost              bool              `json:"data_lost"`
	Timestamps            device.Timestamps `json:"timestamps"`
}

// Acquire applies the settings, waits one exposure and reads the results.
func (s *Session) Acquire(ctx context.Context, exposureMs, coincWindowBins int) (*Acquisition, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.acquireLocked(ctx, exposureMs, coincWindowBins)
}

func (s *Session) acquireLocked(ctx context.Context, exposureMs, coincWindowBins int) (*Acquisition, error) {
	if err := s.dev.SetExposureTime(exposureMs); err != nil {
		return nil, errors.WrapIf(err, "set exposure time")
	}
	s.settings.Add(1)
	if err := s.dev.SetCoincidenceWindow(coincWindowBins); err != nil {
		return nil, errors.WrapIf(err, "set coincidence window")
	}
	if err := s.sleep(ctx, time.Duration(exposureMs)*time.Millisecond); err != nil {
		return nil, err
	}

	acq := &Acquisition{
		ExposureMs:            exposureMs,
		CoincidenceWindowBins: coincWindowBins,
		AcquiredAt:            s.now(),
	}
	var err error
	if acq.Counters, err = s.dev.CoincCounters(); err != nil {
		return nil, errors.WrapIf(err, "read counters")
	}
	if acq.DataLost, err = s.dev.DataLost(); err != nil {
		return nil, errors.WrapIf(err, "read data loss")
	}
	if acq.Timestamps, err = s.dev.LastTimestamps(false); err != nil {
		return nil, errors.WrapIf(err, "read timestamps")
	}
	if acq.DataLost {
		s.logger.WithField("coincidence_window_bins", coincWindowBins).Warn("timestamp buffer overflowed during acquisition")
	}
	return acq, nil
}

// SweepPoint is one acquisition of a sweep.
type SweepPoint struct {
	Index       int
	WindowNs    float64
	Acquisition *Acquisition
}

// Sweep runs one acquisition per coincidence window of the plan, converting
// nanoseconds to bins with the device timebase, and hands each to fn. An
// error from fn stops the sweep.
func (s *Session) Sweep(ctx context.Context, p plan.Sweep, fn func(SweepPoint) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	timebase, err := s.dev.Timebase()
	if err != nil {
		return errors.WrapIf(err, "timebase")
	}
	for i, ns := range p.CoincidenceWindowsNs {
		bins, err := device.NsToBins(ns, timebase)
		if err != nil {
			return err
		}
		if bins < 1 {
			return errors.Wrapf(device.ErrInvalidParameter, "coincidence window %g ns is below one bin", ns)
		}
		s.logger.WithFields(log.Fields{
			"window_ns": ns,
			"bins":      bins,
		}).Debug("sweep point")

		acq, err := s.acquireLocked(ctx, p.ExposureMs, bins)
		if err != nil {
			return errors.WrapIff(err, "sweep point %g ns", ns)
		}
		if err := fn(SweepPoint{Index: i, WindowNs: ns, Acquisition: acq}); err != nil {
			return err
		}
		if settle := p.Settle.Std(); settle > 0 && i < len(p.CoincidenceWindowsNs)-1 {
			if err := s.sleep(ctx, settle); err != nil {
				return err
			}
		}
	}
	return nil
}

// HBTG2 enables the HBT function and returns its g2.
func (s *Session) HBTG2(ctx context.Context) ([]float64, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	if err := s.dev.EnableHBT(true); err != nil {
		return nil, errors.WrapIf(err, "enable hbt")
	}
	g2, err := s.dev.CalcHBTG2()
	if err != nil {
		return nil, errors.WrapIf(err, "calc hbt g2")
	}
	return g2, nil
}

// MaxHg2Wait bounds the integration time of one heralded g2 capture.
const MaxHg2Wait = time.Hour

// Hg2Params configures a heralded g2 capture.
type Hg2Params struct {
	Idler    int           `json:"idler"`
	Channel1 int           `json:"channel1"`
	Channel2 int           `json:"channel2"`
	BinWidth int           `json:"bin_width"`
	BinCount int           `json:"bin_count"`
	Wait     time.Duration `json:"wait"`
}

// DefaultHg2Params integrates idler 1 against channels 2 and 3 for 5 s.
func DefaultHg2Params() Hg2Params {
	return Hg2Params{Idler: 1, Channel1: 2, Channel2: 3, BinWidth: 12, BinCount: 256, Wait: 5 * time.Second}
}

// HeraldedG2 enables the Hg2 function, integrates for p.Wait and returns
// 2*BinCount-1 values. The device is free for other calls while the
// histogram integrates.
func (s *Session) HeraldedG2(ctx context.Context, p Hg2Params) ([]float64, error) {
	if p.Wait < 0 || p.Wait > MaxHg2Wait {
		return nil, errors.Wrapf(device.ErrInvalidParameter, "hg2 wait %s outside 0..%s", p.Wait, MaxHg2Wait)
	}
	if err := s.setupHg2(ctx, p); err != nil {
		return nil, err
	}
	if err := s.sleep(ctx, p.Wait); err != nil {
		return nil, err
	}

	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	g2, err := s.dev.CalcHg2G2(false)
	if err != nil {
		return nil, errors.WrapIf(err, "calc hg2 g2")
	}
	return g2, nil
}

func (s *Session) setupHg2(ctx context.Context, p Hg2Params) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if err := s.dev.EnableHg2(true); err != nil {
		return errors.WrapIf(err, "enable hg2")
	}
	if err := s.dev.SetHg2Input(p.Idler, p.Channel1, p.Channel2); err != nil {
		return errors.WrapIf(err, "set hg2 input")
	}
	if err := s.dev.SetHg2Params(p.BinWidth, p.BinCount); err != nil {
		return errors.WrapIf(err, "set hg2 params")
	}
	return nil
}

// Ping checks that the device still answers.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	state, err := s.dev.CalibrationState()
	if err != nil {
		return errors.WrapIf(err, "calibration state")
	}
	if state == device.CalibrationError {
		return errors.New("device calibration failed")
	}
	return nil
}

// Close releases the device.
func (s *Session) Close() error {
	return s.dev.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
