package session

import (
	"context"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/pollloop"
	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/window"
)

const (
	DefaultLiveName     = "counts"
	DefaultCapacity     = 30
	DefaultPollInterval = pollloop.DefaultInterval
)

// LiveConfig selects what a live view plots.
type LiveConfig struct {
	// Name identifies the view for LiveSnapshot and renderers.
	Name string
	// Channels are counter indices (see device.CounterNames).
	Channels     []int
	Capacity     int
	PollInterval time.Duration
	// ElapsedAxis plots seconds since the first sample instead of seconds ago.
	ElapsedAxis bool
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.Name == "" {
		c.Name = DefaultLiveName
	}
	if len(c.Channels) == 0 {
		c.Channels = []int{1, 2}
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Live polls the counters until ctx is done, keeping the last Capacity
// refreshes of the selected channels in a rolling window. Polls that report
// no new exposure leave the window untouched. Each advance is published for
// LiveSnapshot and passed to r; render failures are logged, device failures
// end the loop.
func (s *Session) Live(ctx context.Context, cfg LiveConfig, r render.Renderer) error {
	cfg = cfg.withDefaults()
	for _, ch := range cfg.Channels {
		if ch < 0 || ch >= device.CounterCount {
			return errors.Wrapf(device.ErrInvalidParameter, "live channel %d outside 0..%d", ch, device.CounterCount-1)
		}
	}
	var opts []window.Option
	if cfg.ElapsedAxis {
		opts = append(opts, window.WithElapsedAxis())
	}
	win, err := window.New(cfg.Channels, cfg.Capacity, opts...)
	if err != nil {
		return err
	}

	seenSettings := s.settings.Load()
	params, err := s.deviceParams(ctx)
	if err != nil {
		return err
	}
	logger := s.logger.WithField("view", cfg.Name)
	logger.WithFields(log.Fields{
		"channels":                cfg.Channels,
		"capacity":                cfg.Capacity,
		"exposure_ms":             params.ExposureMs,
		"coincidence_window_bins": params.CoincidenceWindowBins,
	}).Info("live view started")

	var (
		lastAdvance time.Time
		tick        uint64
	)
	values := make(map[int]float64, len(cfg.Channels))

	err = pollloop.Run(ctx, cfg.PollInterval, 0, func(time.Time) error {
		set, err := s.coincCounters(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WrapIf(err, "read counters")
		}
		if set.Updates == 0 {
			logger.Debug("waiting for new data")
			return nil
		}
		if gen := s.settings.Load(); gen != seenSettings {
			if params, err = s.deviceParams(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			seenSettings = gen
			logger.WithField("exposure_ms", params.ExposureMs).Debug("device settings changed")
		}

		now := s.now()
		elapsed := 0.0
		if !lastAdvance.IsZero() {
			elapsed = now.Sub(lastAdvance).Seconds()
		}
		lastAdvance = now

		for _, ch := range cfg.Channels {
			values[ch] = float64(set.Values[ch])
		}
		if err := win.Advance(values, elapsed); err != nil {
			return err
		}
		tick++

		frame := buildFrame(win.Snapshot(), tick, cfg.Capacity, params.ExposureMs)
		s.views.Store(cfg.Name, frame)
		if r != nil {
			if err := r.Render(cfg.Name, frame); err != nil {
				logger.WithError(err).Warn("render failed")
			}
		}
		return nil
	})
	logger.WithField("ticks", tick).Info("live view stopped")
	return err
}

// LiveSnapshot returns the latest frame published by the named view.
func (s *Session) LiveSnapshot(name string) (render.LiveFrame, bool) {
	return s.views.Load(name)
}

// LiveNames lists the views that have published at least one frame.
func (s *Session) LiveNames() []string {
	var names []string
	s.views.Range(func(name string, _ render.LiveFrame) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (s *Session) deviceParams(ctx context.Context) (device.Params, error) {
	if err := s.lock(ctx); err != nil {
		return device.Params{}, err
	}
	defer s.unlock()
	p, err := s.dev.DeviceParams()
	if err != nil {
		return p, errors.WrapIf(err, "device params")
	}
	return p, nil
}

func (s *Session) coincCounters(ctx context.Context) (device.CounterSet, error) {
	if err := s.lock(ctx); err != nil {
		return device.CounterSet{}, err
	}
	defer s.unlock()
	return s.dev.CoincCounters()
}

func buildFrame(snap window.Snapshot[int], tick uint64, capacity, exposureMs int) render.LiveFrame {
	frame := render.LiveFrame{
		Tick:       tick,
		Capacity:   capacity,
		ExposureMs: exposureMs,
		TimeS:      snap.Times,
		Series:     make([]render.Series, 0, len(snap.Channels)),
	}
	for _, ch := range snap.Channels {
		frame.Series = append(frame.Series, render.Series{
			Channel: ch,
			Label:   "Ch " + device.CounterName(ch),
			Values:  snap.Values[ch],
		})
	}
	return frame
}
