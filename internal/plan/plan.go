// Package plan loads coincidence-window sweep plans from YAML.
package plan

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"emperror.dev/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan wraps every validation failure.
const ErrInvalidPlan = errors.Sentinel("invalid sweep plan")

// Sweep is one coincidence-window sweep: a fixed exposure and a list of
// coincidence windows visited in order.
type Sweep struct {
	ExposureMs           int       `yaml:"exposure_ms" json:"exposure_ms"`
	CoincidenceWindowsNs []float64 `yaml:"coincidence_windows_ns" json:"coincidence_windows_ns"`
	// Settle is an extra pause between points.
	Settle Duration `yaml:"settle,omitempty" json:"settle,omitempty"`
}

// Default returns the sweep the lab bench runs when no plan file is given:
// 20 ms exposure, windows 1, 5, 10 ... 50 ns.
func Default() Sweep {
	windows := []float64{1}
	for ns := 5; ns <= 50; ns += 5 {
		windows = append(windows, float64(ns))
	}
	return Sweep{ExposureMs: 20, CoincidenceWindowsNs: windows}
}

// Load reads and validates a plan file.
func Load(path string) (Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sweep{}, errors.Wrapf(err, "read plan %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan. Unknown keys are rejected.
func Parse(data []byte) (Sweep, error) {
	var s Sweep
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Sweep{}, errors.WrapIf(err, "decode plan")
	}
	if err := s.Validate(); err != nil {
		return Sweep{}, err
	}
	return s, nil
}

// Validate reports every problem in one error.
func (s Sweep) Validate() error {
	var errs []string
	if s.ExposureMs < 1 || s.ExposureMs > 65535 {
		errs = append(errs, fmt.Sprintf("exposure_ms must be 1-65535, got %d", s.ExposureMs))
	}
	if len(s.CoincidenceWindowsNs) == 0 {
		errs = append(errs, "coincidence_windows_ns must not be empty")
	}
	for i, ns := range s.CoincidenceWindowsNs {
		if ns <= 0 || math.IsNaN(ns) || math.IsInf(ns, 0) {
			errs = append(errs, fmt.Sprintf("coincidence_windows_ns[%d] must be positive, got %g", i, ns))
		}
	}
	if s.Settle < 0 {
		errs = append(errs, "settle must not be negative")
	}
	if len(errs) > 0 {
		return errors.Wrapf(ErrInvalidPlan, "\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
