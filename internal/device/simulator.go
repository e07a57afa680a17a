package device

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"emperror.dev/errors"
)

// SimulatorOptions configures the simulated tagger. Zero values select
// defaults.
type SimulatorOptions struct {
	Seed uint64
	// TimebaseSeconds is the bin width. Default 1 ps.
	TimebaseSeconds float64
	// BufferSize is the timestamp buffer depth. Default 1 << 16.
	BufferSize int
	// RatesHz maps channel number (0..32) to its single-count rate.
	RatesHz map[int]float64
	// PairFraction is the fraction of the lower rate of a channel pair that
	// arrives correlated. Default 0.05.
	PairFraction float64
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// DefaultRatesHz is the detector load the simulator starts with.
var DefaultRatesHz = map[int]float64{
	1: 12000,
	2: 9500,
	3: 8000,
	4: 600,
	5: 300,
}

const (
	defaultTimebase     = 1e-12
	defaultBufferSize   = 1 << 16
	defaultPairFraction = 0.05
	defaultExposureMs   = 100
	defaultCoincBins    = 1000
	defaultHBTBinCount  = 256
	maxSimTimestamps    = 4096
)

// Simulator is a deterministic in-process Tagger. Counters refresh once per
// exposure period measured on the configured clock.
type Simulator struct {
	mu   sync.Mutex
	opts SimulatorOptions
	rng  *rand.Rand
	now  func() time.Time

	closed          bool
	exposureMs      int
	coincWindowBins int
	lastRefresh     time.Time
	pendingUpdates  int
	counters        []int64
	lostSinceRead   bool
	timestamps      Timestamps

	hbtEnabled  bool
	hg2Enabled  bool
	hg2Input    [3]int
	hg2BinWidth int
	hg2BinCount int
	hg2Since    time.Time
}

// NewSimulator returns a simulator with exposure 100 ms and a 1000 bin
// coincidence window.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.TimebaseSeconds <= 0 {
		opts.TimebaseSeconds = defaultTimebase
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if len(opts.RatesHz) == 0 {
		opts.RatesHz = DefaultRatesHz
	}
	if opts.PairFraction <= 0 {
		opts.PairFraction = defaultPairFraction
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Simulator{
		opts:            opts,
		rng:             rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		now:             now,
		exposureMs:      defaultExposureMs,
		coincWindowBins: defaultCoincBins,
		counters:        make([]int64, CounterCount),
		hg2Input:        [3]int{1, 2, 3},
		hg2BinWidth:     12,
		hg2BinCount:     defaultHBTBinCount,
	}
	s.lastRefresh = now()
	return s
}

func (s *Simulator) CalibrationState() (CalibrationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return CalibrationFinished, nil
}

func (s *Simulator) Timebase() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.opts.TimebaseSeconds, nil
}

func (s *Simulator) BufferSize() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.opts.BufferSize, nil
}

// CoincCounters returns the counters of the last completed exposure and the
// number of exposures completed since the previous call.
func (s *Simulator) CoincCounters() (CounterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CounterSet{}, ErrClosed
	}
	s.catchUpLocked()
	updates := s.pendingUpdates
	s.pendingUpdates = 0
	return CounterSet{Values: slices.Clone(s.counters), Updates: updates}, nil
}

func (s *Simulator) DeviceParams() (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Params{}, ErrClosed
	}
	return Params{CoincidenceWindowBins: s.coincWindowBins, ExposureMs: s.exposureMs}, nil
}

func (s *Simulator) ChannelsEnabled() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var chans []int
	for ch, rate := range s.opts.RatesHz {
		if rate > 0 {
			chans = append(chans, ch)
		}
	}
	slices.Sort(chans)
	return chans, nil
}

func (s *Simulator) ClockState() (ClockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ClockState{}, ErrClosed
	}
	return ClockState{}, nil
}

func (s *Simulator) SetExposureTime(ms int) error {
	if err := validateExposure(ms); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.exposureMs = ms
	s.lastRefresh = s.now()
	s.pendingUpdates = 0
	return nil
}

func (s *Simulator) SetCoincidenceWindow(bins int) error {
	if err := validateCoincidenceWindow(bins); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.coincWindowBins = bins
	return nil
}

func (s *Simulator) DataLost() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	s.catchUpLocked()
	lost := s.lostSinceRead
	s.lostSinceRead = false
	return lost, nil
}

func (s *Simulator) LastTimestamps(reset bool) (Timestamps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Timestamps{}, ErrClosed
	}
	s.catchUpLocked()
	out := Timestamps{
		Times:    slices.Clone(s.timestamps.Times),
		Channels: slices.Clone(s.timestamps.Channels),
		Valid:    s.timestamps.Valid,
	}
	if reset {
		s.timestamps = Timestamps{}
	}
	return out, nil
}

func (s *Simulator) EnableHBT(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hbtEnabled = enable
	return nil
}

func (s *Simulator) CalcHBTG2() ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.hbtEnabled {
		return nil, ErrNotEnabled
	}
	return s.g2CurveLocked(defaultHBTBinCount, 0.5, 40, 0.02), nil
}

func (s *Simulator) EnableHg2(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if enable && !s.hg2Enabled {
		s.hg2Since = s.now()
	}
	s.hg2Enabled = enable
	return nil
}

func (s *Simulator) SetHg2Input(idler, channel1, channel2 int) error {
	for _, ch := range []int{idler, channel1, channel2} {
		if ch < 1 || ch > MaxChannel {
			return errors.Wrapf(ErrInvalidParameter, "hg2 input channel %d outside 1..%d", ch, MaxChannel)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hg2Input = [3]int{idler, channel1, channel2}
	return nil
}

func (s *Simulator) SetHg2Params(binWidth, binCount int) error {
	if err := validateHg2Params(binWidth, binCount); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.hg2BinWidth = binWidth
	s.hg2BinCount = binCount
	return nil
}

func (s *Simulator) CalcHg2G2(reset bool) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.hg2Enabled {
		return nil, ErrNotEnabled
	}
	// Statistics improve with integration time; noise shrinks accordingly.
	integrated := s.now().Sub(s.hg2Since).Seconds()
	if integrated < 0.1 {
		integrated = 0.1
	}
	noise := 0.2 / math.Sqrt(integrated)
	out := s.g2CurveLocked(s.hg2BinCount, 0.85, 25.0/float64(s.hg2BinWidth)+1, noise)
	if reset {
		s.hg2Since = s.now()
	}
	return out, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// g2CurveLocked draws 1 - depth*exp(-|k|/width) plus gaussian noise over
// 2*binCount-1 bins.
func (s *Simulator) g2CurveLocked(binCount int, depth, width, sigma float64) []float64 {
	n := 2*binCount - 1
	out := make([]float64, n)
	center := binCount - 1
	for i := range out {
		k := math.Abs(float64(i - center))
		v := 1 - depth*math.Exp(-k/width) + sigma*s.rng.NormFloat64()
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out
}

// catchUpLocked regenerates counters for every exposure that completed since
// the last refresh.
func (s *Simulator) catchUpLocked() {
	if s.exposureMs <= 0 {
		return
	}
	exposure := time.Duration(s.exposureMs) * time.Millisecond
	elapsed := s.now().Sub(s.lastRefresh)
	n := int(elapsed / exposure)
	if n <= 0 {
		return
	}
	s.lastRefresh = s.lastRefresh.Add(time.Duration(n) * exposure)
	s.pendingUpdates += n
	s.generateLocked(exposure.Seconds())
}

func (s *Simulator) generateLocked(exposureSec float64) {
	singles := make([]float64, MaxChannel+1)
	for ch := 0; ch <= MaxChannel; ch++ {
		mean := s.opts.RatesHz[ch] * exposureSec
		singles[ch] = mean
		s.counters[ch] = s.poisson(mean)
	}

	windowSec := float64(s.coincWindowBins) * s.opts.TimebaseSeconds
	for i := MaxChannel + 1; i < CounterCount; i++ {
		group := CoincidenceGroup(i)
		accidental := exposureSec
		minRate := math.Inf(1)
		for _, ch := range group {
			rate := s.opts.RatesHz[ch]
			accidental *= rate
			minRate = math.Min(minRate, rate)
		}
		accidental *= math.Pow(windowSec, float64(len(group)-1))
		correlated := math.Pow(s.opts.PairFraction, float64(len(group)-1)) * minRate * exposureSec
		s.counters[i] = s.poisson(accidental + correlated)
	}

	var total int64
	for ch := 1; ch <= MaxChannel; ch++ {
		total += s.counters[ch]
	}
	if total > int64(s.opts.BufferSize) {
		s.lostSinceRead = true
	}
	s.fillTimestampsLocked(total, exposureSec)
}

func (s *Simulator) fillTimestampsLocked(total int64, exposureSec float64) {
	n := int(min(total, int64(s.opts.BufferSize), maxSimTimestamps))
	ts := Timestamps{
		Times:    make([]int64, n),
		Channels: make([]int8, n),
		Valid:    n,
	}
	var chans []int
	var weights []float64
	var sum float64
	for ch := 1; ch <= MaxChannel; ch++ {
		if r := s.opts.RatesHz[ch]; r > 0 {
			chans = append(chans, ch)
			sum += r
			weights = append(weights, sum)
		}
	}
	spanBins := exposureSec / s.opts.TimebaseSeconds
	var t float64
	for i := 0; i < n; i++ {
		t += s.rng.ExpFloat64() * spanBins / float64(n)
		ts.Times[i] = int64(t)
		pick := s.rng.Float64() * sum
		idx, _ := slices.BinarySearch(weights, pick)
		if idx >= len(chans) {
			idx = len(chans) - 1
		}
		ts.Channels[i] = int8(chans[idx])
	}
	s.timestamps = ts
}

// poisson draws a Poisson variate; large means use the normal approximation.
func (s *Simulator) poisson(mean float64) int64 {
	if mean <= 0 {
		return 0
	}
	if mean > 30 {
		v := math.Round(mean + math.Sqrt(mean)*s.rng.NormFloat64())
		if v < 0 {
			return 0
		}
		return int64(v)
	}
	l := math.Exp(-mean)
	var k int64
	p := 1.0
	for {
		p *= s.rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

var _ Tagger = (*Simulator)(nil)
