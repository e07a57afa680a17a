package render

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"

	"emperror.dev/errors"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/Resinat/Tagscope/internal/fsutil"
)

const (
	DefaultWidth  = 1000
	DefaultHeight = 700
)

// ChartRenderer draws frames as line charts. When Dir is set, Render writes
// <Dir>/<name>.png; otherwise it only validates that the frame draws.
type ChartRenderer struct {
	Width  int
	Height int
	Dir    string
}

func (c ChartRenderer) size() (int, int) {
	w, h := c.Width, c.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return w, h
}

// Render implements Renderer.
func (c ChartRenderer) Render(name string, frame LiveFrame) error {
	png, err := c.LivePNG(name, frame)
	if err != nil {
		return err
	}
	if c.Dir == "" {
		return nil
	}
	return c.WriteFile(name, png)
}

// WriteFile atomically replaces <Dir>/<name>.png.
func (c ChartRenderer) WriteFile(name string, png []byte) error {
	path := filepath.Join(c.Dir, name+".png")
	if err := fsutil.WriteFileAtomic(path, png); err != nil {
		return errors.Wrapf(err, "render: write %s", path)
	}
	return nil
}

// LivePNG draws the count rates of a frame against time.
func (c ChartRenderer) LivePNG(name string, frame LiveFrame) ([]byte, error) {
	if frame.Len() == 0 {
		return nil, ErrEmptyFrame
	}
	xs := padX(frame.TimeS)
	series := make([]chart.Series, 0, len(frame.Series))
	maxY := 0.0
	for _, s := range frame.Series {
		for _, v := range s.Values {
			maxY = math.Max(maxY, v)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    s.Label,
			XValues: xs,
			YValues: padY(s.Values),
		})
	}
	if maxY <= 0 {
		maxY = 1
	}

	w, h := c.size()
	ch := chart.Chart{
		Title:  fmt.Sprintf("%s count rates", name),
		Width:  w,
		Height: h,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 28},
		},
		XAxis: chart.XAxis{
			Name:  "Time [s]",
			Range: xRange(xs),
		},
		YAxis: chart.YAxis{
			Name:  fmt.Sprintf("Countrate [1/%gs]", float64(frame.ExposureMs)/1000),
			Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "render: live chart")
	}
	return buf.Bytes(), nil
}

// G2Chart draws a correlation function against bin index.
func (c ChartRenderer) G2Chart(values []float64, title string) ([]byte, error) {
	if len(values) == 0 {
		return nil, ErrEmptyFrame
	}
	xs := make([]float64, len(values))
	maxY := 0.0
	for i, v := range values {
		xs[i] = float64(i)
		maxY = math.Max(maxY, v)
	}
	if maxY <= 0 {
		maxY = 1
	}
	xs = padX(xs)

	w, h := c.size()
	ch := chart.Chart{
		Title:  title,
		Width:  w,
		Height: h,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 28},
		},
		XAxis: chart.XAxis{
			Name:  "Bin",
			Range: xRange(xs),
		},
		YAxis: chart.YAxis{
			Name:  "g2",
			Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "g2", XValues: xs, YValues: padY(values)},
		},
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "render: g2 chart")
	}
	return buf.Bytes(), nil
}

// padX widens a single point to two so the axis range is never empty.
func padX(xs []float64) []float64 {
	if len(xs) == 1 {
		return []float64{xs[0] - 1, xs[0]}
	}
	return xs
}

func xRange(xs []float64) *chart.ContinuousRange {
	lo, hi := xs[0], xs[len(xs)-1]
	if hi <= lo {
		hi = lo + 1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func padY(ys []float64) []float64 {
	if len(ys) == 1 {
		return []float64{ys[0], ys[0]}
	}
	return ys
}
