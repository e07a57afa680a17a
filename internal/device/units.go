package device

import (
	"math"

	"emperror.dev/errors"
)

// NsToBins converts a duration in nanoseconds to device bins for a timebase
// given in seconds. The result is truncated toward zero.
func NsToBins(ns, timebaseSeconds float64) (int, error) {
	if timebaseSeconds <= 0 || math.IsNaN(timebaseSeconds) || math.IsInf(timebaseSeconds, 0) {
		return 0, errors.Wrapf(ErrInvalidParameter, "timebase must be positive, got %g", timebaseSeconds)
	}
	if ns < 0 || math.IsNaN(ns) {
		return 0, errors.Wrapf(ErrInvalidParameter, "duration must be non-negative, got %g ns", ns)
	}
	// Round the quotient to a few ulps before truncating so 5 ns at 1 ps
	// does not come out as 4999.
	bins := math.Floor(ns*1e-9/timebaseSeconds + 1e-9)
	if bins > math.MaxInt32 {
		return 0, errors.Wrapf(ErrInvalidParameter, "%g ns is more than %d bins", ns, math.MaxInt32)
	}
	return int(bins), nil
}

// BinsToNs converts device bins back to nanoseconds.
func BinsToNs(bins int, timebaseSeconds float64) float64 {
	return float64(bins) * timebaseSeconds * 1e9
}
