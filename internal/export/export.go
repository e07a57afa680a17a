// Package export writes measurement results as text files in the list
// literal layout the lab's analysis notebooks read back.
package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/zeebo/xxh3"

	"github.com/Resinat/Tagscope/internal/fsutil"
	"github.com/Resinat/Tagscope/internal/session"
)

// DefaultG2Name is the file heralded g2 captures are written to.
const DefaultG2Name = "HeraldedG2.txt"

// CountsFileName names the file for one coincidence window of a sweep.
func CountsFileName(windowNs float64) string {
	return fmt.Sprintf("coincWin_%dns.txt", int(windowNs))
}

// Result describes a written file.
type Result struct {
	Path   string
	Digest string
}

// WriteCounts writes the counters, timestamps and timestamp channels of one
// acquisition as three list lines.
func WriteCounts(dir string, windowNs float64, acq *session.Acquisition) (Result, error) {
	if acq == nil {
		return Result{}, errors.New("export: nil acquisition")
	}
	var b strings.Builder
	b.WriteString(FormatInts(acq.Counters.Values))
	b.WriteByte('\n')
	valid := min(acq.Timestamps.Valid, len(acq.Timestamps.Times), len(acq.Timestamps.Channels))
	b.WriteString(FormatInts(acq.Timestamps.Times[:valid]))
	b.WriteByte('\n')
	b.WriteString(FormatInts(acq.Timestamps.Channels[:valid]))
	b.WriteByte('\n')
	return write(filepath.Join(dir, CountsFileName(windowNs)), []byte(b.String()))
}

// WriteG2 writes a correlation function as a single list line. An empty name
// selects DefaultG2Name.
func WriteG2(dir, name string, values []float64) (Result, error) {
	if name == "" {
		name = DefaultG2Name
	}
	return write(filepath.Join(dir, name), []byte(FormatFloats(values)))
}

func write(path string, data []byte) (Result, error) {
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return Result{}, errors.Wrapf(err, "export: %s", path)
	}
	return Result{Path: path, Digest: Digest(data)}, nil
}

// Digest is the hex xxh3-64 of data.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// FormatInts renders values as "[a, b, c]".
func FormatInts[T ~int8 | ~int16 | ~int32 | ~int64 | ~int](values []T) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	b.WriteByte(']')
	return b.String()
}

// FormatFloats renders values as "[1.0, 0.25, 1e-05]". Integral values keep
// a trailing ".0" so the list reads back as floats.
func FormatFloats(values []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(formatFloat(v))
	}
	b.WriteByte(']')
	return b.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
