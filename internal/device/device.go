// Package device defines the driver seam for the time tagger: the Tagger
// interface every command talks to, the coincidence counter layout, unit
// conversions and an in-process simulator.
package device

import (
	"fmt"

	"emperror.dev/errors"
)

const (
	// ErrInvalidParameter is returned when a setting is outside the range the
	// device accepts.
	ErrInvalidParameter = errors.Sentinel("invalid device parameter")

	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.Sentinel("device closed")

	// ErrNotEnabled is returned when a correlation function is requested
	// before it was enabled.
	ErrNotEnabled = errors.Sentinel("function not enabled")
)

const (
	// MaxExposureMs is the largest exposure time the counters accept.
	MaxExposureMs = 65535

	// MaxHg2BinCount is the histogram depth per side of the Hg2 function.
	MaxHg2BinCount = 4096

	// MaxHg2BinWidth is the widest Hg2 histogram bin in timebase units.
	MaxHg2BinWidth = 1 << 20
)

// CalibrationState is the device's self-calibration status.
type CalibrationState int

const (
	CalibrationIdle CalibrationState = iota
	CalibrationRunning
	CalibrationFinished
	CalibrationError
)

func (s CalibrationState) String() string {
	switch s {
	case CalibrationIdle:
		return "idle"
	case CalibrationRunning:
		return "running"
	case CalibrationFinished:
		return "finished"
	case CalibrationError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s CalibrationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CounterSet is one read of the coincidence counters.
type CounterSet struct {
	// Values holds CounterCount entries in the layout described by CounterNames.
	Values []int64 `json:"values"`
	// Updates is the number of counter refreshes since the previous read.
	// Zero means the values are stale.
	Updates int `json:"updates"`
}

// Params are the read-back counter settings.
type Params struct {
	CoincidenceWindowBins int `json:"coincidence_window_bins"`
	ExposureMs            int `json:"exposure_ms"`
}

// ClockState reports the external clock input.
type ClockState struct {
	Locked bool `json:"locked"`
	Uplink bool `json:"uplink"`
}

// Timestamps is the content of the device timestamp buffer.
type Timestamps struct {
	// Times are in timebase units.
	Times    []int64 `json:"times"`
	Channels []int8  `json:"channels"`
	Valid    int     `json:"valid"`
}

// Tagger is the driver for one time tagger. Implementations are not required
// to be safe for concurrent use; callers serialize access.
type Tagger interface {
	CalibrationState() (CalibrationState, error)
	// Timebase returns the bin width in seconds.
	Timebase() (float64, error)
	BufferSize() (int, error)
	CoincCounters() (CounterSet, error)
	DeviceParams() (Params, error)
	ChannelsEnabled() ([]int, error)
	ClockState() (ClockState, error)

	SetExposureTime(ms int) error
	SetCoincidenceWindow(bins int) error

	// DataLost reports whether timestamps were dropped since the last call.
	DataLost() (bool, error)
	LastTimestamps(reset bool) (Timestamps, error)

	EnableHBT(enable bool) error
	CalcHBTG2() ([]float64, error)

	EnableHg2(enable bool) error
	SetHg2Input(idler, channel1, channel2 int) error
	SetHg2Params(binWidth, binCount int) error
	// CalcHg2G2 returns 2*binCount-1 values centered on zero delay.
	CalcHg2G2(reset bool) ([]float64, error)

	Close() error
}

// Report is the settings dump printed by the info command.
type Report struct {
	CalibrationState CalibrationState `json:"calibration_state"`
	TimebaseSeconds  float64          `json:"timebase_seconds"`
	BufferSize       int              `json:"buffer_size"`
	Counters         CounterSet       `json:"counters"`
	Params           Params           `json:"params"`
	EnabledChannels  []int            `json:"enabled_channels"`
	Clock            ClockState       `json:"clock"`
}

// KindSimulator selects the in-process simulator.
const KindSimulator = "simulator"

// Kinds lists the driver kinds Open understands.
func Kinds() []string { return []string{KindSimulator} }

// Open returns a driver of the given kind.
func Open(kind string, opts SimulatorOptions) (Tagger, error) {
	switch kind {
	case KindSimulator:
		return NewSimulator(opts), nil
	default:
		return nil, errors.Errorf("device: unknown driver kind %q", kind)
	}
}

func validateExposure(ms int) error {
	if ms < 0 || ms > MaxExposureMs {
		return errors.Wrapf(ErrInvalidParameter, "exposure %d ms outside 0..%d", ms, MaxExposureMs)
	}
	return nil
}

func validateCoincidenceWindow(bins int) error {
	if bins < 1 {
		return errors.Wrapf(ErrInvalidParameter, "coincidence window must be at least 1 bin, got %d", bins)
	}
	return nil
}

func validateHg2Params(binWidth, binCount int) error {
	if binWidth < 1 || binWidth > MaxHg2BinWidth {
		return errors.Wrapf(ErrInvalidParameter, "hg2 bin width %d outside 1..%d", binWidth, MaxHg2BinWidth)
	}
	if binCount < 1 || binCount > MaxHg2BinCount {
		return errors.Wrapf(ErrInvalidParameter, "hg2 bin count %d outside 1..%d", binCount, MaxHg2BinCount)
	}
	return nil
}
