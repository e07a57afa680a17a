// Package window implements the bounded rolling sample window that backs
// every live plot: a fixed number of most-recent samples per channel, with
// all channels advanced and evicted in lock-step against one shared time axis.
package window

import (
	"math"

	"emperror.dev/errors"
	"github.com/gammazero/deque"
)

const (
	// ErrInvalidConfiguration is returned by New for a non-positive capacity,
	// an empty channel set or a duplicated channel.
	ErrInvalidConfiguration = errors.Sentinel("invalid window configuration")

	// ErrChannelMismatch is returned by Advance when the supplied values do
	// not cover exactly the configured channel set.
	ErrChannelMismatch = errors.Sentinel("channel set mismatch")
)

// Option tweaks a Window at construction time.
type Option func(*options)

type options struct {
	elapsedAxis bool
}

// WithElapsedAxis reports time coordinates as seconds since the window was
// created (or last reset) instead of seconds relative to the newest sample.
func WithElapsedAxis() Option {
	return func(o *options) { o.elapsedAxis = true }
}

// Window holds the most recent samples for a fixed set of channels.
//
// On every Advance the existing samples move back in time by the elapsed
// interval and one new sample per channel is appended at time 0. Once the
// shared length exceeds the capacity the oldest sample of every channel is
// dropped together, so all series stay index-aligned with the time axis.
//
// Window is not safe for concurrent use.
type Window[K comparable] struct {
	channels    []K
	index       map[K]int
	capacity    int
	elapsedAxis bool

	// clock accumulates the elapsed time of every advance since the last
	// reset. Samples store the clock value at insertion, so the "seconds
	// ago" coordinate is stamp-clock and no stored value is rewritten.
	clock  float64
	stamps *deque.Deque[float64]
	values []*deque.Deque[float64]
}

// New creates a window tracking channels with room for capacity samples per
// channel. The channel order is kept and used for snapshots.
func New[K comparable](channels []K, capacity int, opts ...Option) (*Window[K], error) {
	if capacity < 1 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "capacity must be at least 1, got %d", capacity)
	}
	if len(channels) == 0 {
		return nil, errors.Wrap(ErrInvalidConfiguration, "channel set is empty")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	index := make(map[K]int, len(channels))
	for i, ch := range channels {
		if _, dup := index[ch]; dup {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "channel %v listed twice", ch)
		}
		index[ch] = i
	}

	w := &Window[K]{
		channels:    append([]K(nil), channels...),
		index:       index,
		capacity:    capacity,
		elapsedAxis: o.elapsedAxis,
		stamps:      deque.New[float64](capacity + 1),
		values:      make([]*deque.Deque[float64], len(channels)),
	}
	for i := range w.values {
		w.values[i] = deque.New[float64](capacity + 1)
	}
	return w, nil
}

// Advance appends one sample per channel and ages the stored samples by
// elapsed seconds. values must hold exactly the configured channels; on a
// mismatch nothing is changed. A negative or NaN elapsed counts as zero.
func (w *Window[K]) Advance(values map[K]float64, elapsed float64) error {
	if err := w.checkChannels(values); err != nil {
		return err
	}
	if elapsed < 0 || math.IsNaN(elapsed) {
		elapsed = 0
	}

	w.clock += elapsed
	w.stamps.PushBack(w.clock)
	for i, ch := range w.channels {
		w.values[i].PushBack(values[ch])
	}

	// One shared length check keeps every channel aligned with the axis.
	if w.stamps.Len() > w.capacity {
		w.stamps.PopFront()
		for _, q := range w.values {
			q.PopFront()
		}
	}
	return nil
}

func (w *Window[K]) checkChannels(values map[K]float64) error {
	if len(values) != len(w.channels) {
		return errors.Wrapf(ErrChannelMismatch, "got %d channels, want %d", len(values), len(w.channels))
	}
	for ch := range values {
		if _, ok := w.index[ch]; !ok {
			return errors.Wrapf(ErrChannelMismatch, "unknown channel %v", ch)
		}
	}
	return nil
}

// Snapshot is a copy of the window contents, oldest sample first.
type Snapshot[K comparable] struct {
	// Channels lists the channels in configuration order.
	Channels []K
	// Times is the shared time axis in seconds.
	Times []float64
	// Values holds one series per channel, aligned with Times.
	Values map[K][]float64
}

// Len returns the number of samples in the snapshot.
func (s Snapshot[K]) Len() int { return len(s.Times) }

// Snapshot copies the current contents. It never mutates the window, so
// repeated calls without an intervening Advance return equal snapshots.
func (w *Window[K]) Snapshot() Snapshot[K] {
	n := w.stamps.Len()
	snap := Snapshot[K]{
		Channels: append([]K(nil), w.channels...),
		Times:    make([]float64, n),
		Values:   make(map[K][]float64, len(w.channels)),
	}
	for i := 0; i < n; i++ {
		if w.elapsedAxis {
			snap.Times[i] = w.stamps.At(i)
		} else {
			snap.Times[i] = w.stamps.At(i) - w.clock
		}
	}
	for c, ch := range w.channels {
		series := make([]float64, n)
		q := w.values[c]
		for i := 0; i < n; i++ {
			series[i] = q.At(i)
		}
		snap.Values[ch] = series
	}
	return snap
}

// Reset drops every stored sample and restarts the clock. Capacity and
// channels are unchanged.
func (w *Window[K]) Reset() {
	w.clock = 0
	w.stamps.Clear()
	for _, q := range w.values {
		q.Clear()
	}
}

// Len returns the number of samples currently stored per channel.
func (w *Window[K]) Len() int { return w.stamps.Len() }

// Capacity returns the configured per-channel capacity.
func (w *Window[K]) Capacity() int { return w.capacity }

// Channels returns the configured channels in order.
func (w *Window[K]) Channels() []K { return append([]K(nil), w.channels...) }
