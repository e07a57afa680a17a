// Package render turns live count-rate frames and correlation functions into
// PNG charts and log lines.
package render

import (
	"fmt"
	"strings"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
)

// ErrEmptyFrame is returned when a frame has no samples to draw.
const ErrEmptyFrame = errors.Sentinel("frame has no samples")

// Series is one channel's values, aligned with LiveFrame.TimeS.
type Series struct {
	Channel int       `json:"channel"`
	Label   string    `json:"label"`
	Values  []float64 `json:"values"`
}

// LiveFrame is a published snapshot of a live view.
type LiveFrame struct {
	// Tick counts the advances since the view started.
	Tick       uint64    `json:"tick"`
	Capacity   int       `json:"capacity"`
	ExposureMs int       `json:"exposure_ms"`
	TimeS      []float64 `json:"time_s"`
	Series     []Series  `json:"series"`
}

// Len returns the number of samples in the frame.
func (f LiveFrame) Len() int { return len(f.TimeS) }

// Renderer consumes live frames.
type Renderer interface {
	Render(name string, frame LiveFrame) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(name string, frame LiveFrame) error

func (f RendererFunc) Render(name string, frame LiveFrame) error { return f(name, frame) }

// Multi fans a frame out to every renderer and returns their combined errors.
type Multi []Renderer

func (m Multi) Render(name string, frame LiveFrame) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Render(name, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Combine(errs...)
}

// LogRenderer logs the latest value of every channel.
type LogRenderer struct {
	Logger *log.Entry
}

func (r LogRenderer) Render(name string, frame LiveFrame) error {
	if frame.Len() == 0 {
		return nil
	}
	logger := r.Logger
	if logger == nil {
		logger = log.WithField("component", "render")
	}
	parts := make([]string, 0, len(frame.Series))
	for _, s := range frame.Series {
		parts = append(parts, fmt.Sprintf("%s=%g", s.Label, s.Values[len(s.Values)-1]))
	}
	logger.WithFields(log.Fields{
		"view": name,
		"tick": frame.Tick,
	}).Info(strings.Join(parts, " "))
	return nil
}
