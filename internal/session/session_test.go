package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/render"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func newSimSession(t *testing.T) (*Session, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	sim := device.NewSimulator(device.SimulatorOptions{Seed: 3, Now: clock.Now})
	s := New(sim, Options{Now: clock.Now, Sleep: clock.Sleep})
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestDescribe(t *testing.T) {
	s, _ := newSimSession(t)
	r, err := s.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.CalibrationFinished, r.CalibrationState)
	assert.InDelta(t, 1e-12, r.TimebaseSeconds, 1e-18)
	assert.Equal(t, device.Params{CoincidenceWindowBins: 1000, ExposureMs: 100}, r.Params)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, r.EnabledChannels)
	assert.Len(t, r.Counters.Values, device.CounterCount)
}

func TestAcquire(t *testing.T) {
	s, _ := newSimSession(t)
	acq, err := s.Acquire(context.Background(), 100, 2000)
	require.NoError(t, err)
	assert.Equal(t, 100, acq.ExposureMs)
	assert.Equal(t, 2000, acq.CoincidenceWindowBins)
	assert.Equal(t, 1, acq.Counters.Updates)
	assert.Greater(t, acq.Counters.Values[1], int64(0))
	assert.False(t, acq.DataLost)
	assert.Equal(t, len(acq.Timestamps.Times), acq.Timestamps.Valid)

	_, err = s.Acquire(context.Background(), device.MaxExposureMs+1, 1000)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))
}

func TestAcquire_Cancelled(t *testing.T) {
	s, _ := newSimSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Acquire(ctx, 100, 1000)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSweep_ConvertsNanosecondsToBins(t *testing.T) {
	s, _ := newSimSession(t)
	p := plan.Sweep{ExposureMs: 20, CoincidenceWindowsNs: []float64{1, 5, 12.5}}

	var points []SweepPoint
	err := s.Sweep(context.Background(), p, func(pt SweepPoint) error {
		points = append(points, pt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 1000, points[0].Acquisition.CoincidenceWindowBins)
	assert.Equal(t, 5000, points[1].Acquisition.CoincidenceWindowBins)
	assert.Equal(t, 12500, points[2].Acquisition.CoincidenceWindowBins)
	for i, pt := range points {
		assert.Equal(t, i, pt.Index)
		assert.Equal(t, 20, pt.Acquisition.ExposureMs)
		assert.Equal(t, 1, pt.Acquisition.Counters.Updates)
	}
}

func TestSweep_StopsOnCallbackError(t *testing.T) {
	s, _ := newSimSession(t)
	stop := errors.New("stop")
	calls := 0
	err := s.Sweep(context.Background(), plan.Default(), func(SweepPoint) error {
		calls++
		return stop
	})
	assert.True(t, errors.Is(err, stop))
	assert.Equal(t, 1, calls)

	err = s.Sweep(context.Background(), plan.Sweep{}, func(SweepPoint) error { return nil })
	assert.True(t, errors.Is(err, plan.ErrInvalidPlan))
}

func TestCorrelationFunctions(t *testing.T) {
	s, _ := newSimSession(t)

	hbt, err := s.HBTG2(context.Background())
	require.NoError(t, err)
	assert.Len(t, hbt, 2*256-1)

	p := DefaultHg2Params()
	p.BinCount = 64
	g2, err := s.HeraldedG2(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, g2, 2*64-1)
	assert.Less(t, g2[63], g2[0])

	p.Idler = 0
	_, err = s.HeraldedG2(context.Background(), p)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))
}

// scriptedTagger replays a fixed sequence of counter reads, then cancels the
// live loop.
type scriptedTagger struct {
	device.Tagger

	mu     sync.Mutex
	reads  []scriptedRead
	next   int
	cancel context.CancelFunc
}

type scriptedRead struct {
	updates int
	value   int64
	err     error
}

func (s *scriptedTagger) DeviceParams() (device.Params, error) {
	return device.Params{CoincidenceWindowBins: 1000, ExposureMs: 100}, nil
}

func (s *scriptedTagger) CoincCounters() (device.CounterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]int64, device.CounterCount)
	if s.next >= len(s.reads) {
		s.cancel()
		return device.CounterSet{Values: values}, nil
	}
	r := s.reads[s.next]
	s.next++
	if r.err != nil {
		return device.CounterSet{}, r.err
	}
	values[1] = r.value
	values[2] = r.value * 10
	return device.CounterSet{Values: values, Updates: r.updates}, nil
}

func (s *scriptedTagger) Close() error { return nil }

// steppingClock advances half a second on every read.
func steppingClock() func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		t = t.Add(500 * time.Millisecond)
		return t
	}
}

func runScripted(t *testing.T, reads []scriptedRead, r render.Renderer) (*Session, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	tagger := &scriptedTagger{reads: reads, cancel: cancel}
	s := New(tagger, Options{Now: steppingClock()})
	err := s.Live(ctx, LiveConfig{Channels: []int{1, 2}, Capacity: 2, PollInterval: time.Millisecond}, r)
	return s, err
}

func TestLive_SkipsStaleReadsAndEvictsInLockStep(t *testing.T) {
	var frames []render.LiveFrame
	rec := render.RendererFunc(func(name string, f render.LiveFrame) error {
		assert.Equal(t, DefaultLiveName, name)
		frames = append(frames, f)
		return nil
	})

	s, err := runScripted(t, []scriptedRead{
		{updates: 1, value: 1},
		{updates: 0, value: 99},
		{updates: 0, value: 99},
		{updates: 2, value: 2},
		{updates: 1, value: 3},
	}, rec)
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []float64{0}, frames[0].TimeS)
	assert.Equal(t, []float64{-0.5, 0}, frames[1].TimeS)

	last, ok := s.LiveSnapshot(DefaultLiveName)
	require.True(t, ok)
	assert.Equal(t, uint64(3), last.Tick)
	assert.Equal(t, 2, last.Capacity)
	assert.Equal(t, 100, last.ExposureMs)
	assert.Equal(t, []float64{-0.5, 0}, last.TimeS)
	require.Len(t, last.Series, 2)
	assert.Equal(t, "Ch 1", last.Series[0].Label)
	assert.Equal(t, []float64{2, 3}, last.Series[0].Values)
	assert.Equal(t, []float64{20, 30}, last.Series[1].Values)
	assert.Equal(t, []string{DefaultLiveName}, s.LiveNames())
}

func TestLive_RenderErrorDoesNotStopLoop(t *testing.T) {
	calls := 0
	failing := render.RendererFunc(func(string, render.LiveFrame) error {
		calls++
		return errors.New("disk full")
	})
	s, err := runScripted(t, []scriptedRead{{updates: 1, value: 1}, {updates: 1, value: 2}}, failing)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	last, ok := s.LiveSnapshot(DefaultLiveName)
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Tick)
}

func TestLive_DeviceErrorStopsLoop(t *testing.T) {
	_, err := runScripted(t, []scriptedRead{{updates: 1, value: 1}, {err: device.ErrClosed}}, nil)
	assert.True(t, errors.Is(err, device.ErrClosed))
}

func TestLive_RejectsBadConfiguration(t *testing.T) {
	s, _ := newSimSession(t)
	err := s.Live(context.Background(), LiveConfig{Channels: []int{device.CounterCount}}, nil)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))

	_, ok := s.LiveSnapshot("missing")
	assert.False(t, ok)
}

func TestHeraldedG2_RejectsOutOfRangeParams(t *testing.T) {
	s, _ := newSimSession(t)
	ctx := context.Background()

	p := DefaultHg2Params()
	p.BinCount = 1 << 62
	_, err := s.HeraldedG2(ctx, p)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))

	p = DefaultHg2Params()
	p.Wait = MaxHg2Wait + time.Second
	_, err = s.HeraldedG2(ctx, p)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))

	p.Wait = -time.Second
	_, err = s.HeraldedG2(ctx, p)
	assert.True(t, errors.Is(err, device.ErrInvalidParameter))
}

func TestHeraldedG2_DeviceUsableWhileIntegrating(t *testing.T) {
	clock := newFakeClock()
	sim := device.NewSimulator(device.SimulatorOptions{Seed: 3, Now: clock.Now})
	var s *Session
	var during error
	s = New(sim, Options{Now: clock.Now, Sleep: func(ctx context.Context, d time.Duration) error {
		if d == time.Second {
			checkCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_, during = s.Describe(checkCtx)
		}
		return clock.Sleep(ctx, d)
	}})
	t.Cleanup(func() { _ = s.Close() })

	p := DefaultHg2Params()
	p.BinCount = 16
	p.Wait = time.Second
	g2, err := s.HeraldedG2(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, g2, 2*16-1)
	assert.NoError(t, during)
}

func TestLive_RereadsParamsAfterSettingsChange(t *testing.T) {
	sim := device.NewSimulator(device.SimulatorOptions{Seed: 3, Now: steppingClock()})
	s := New(sim, Options{
		Now:   time.Now,
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var frames []render.LiveFrame
	rec := render.RendererFunc(func(_ string, f render.LiveFrame) error {
		frames = append(frames, f)
		switch len(frames) {
		case 1:
			_, err := s.Acquire(ctx, 40, 1000)
			require.NoError(t, err)
		case 3:
			cancel()
		}
		return nil
	})

	err := s.Live(ctx, LiveConfig{Capacity: 5, PollInterval: time.Millisecond}, rec)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, 100, frames[0].ExposureMs)
	assert.Equal(t, 40, frames[len(frames)-1].ExposureMs)
}

func TestPing(t *testing.T) {
	s, _ := newSimSession(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, errors.Is(s.Ping(context.Background()), device.ErrClosed))
}
