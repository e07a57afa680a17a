package render

import (
	"strconv"

	"github.com/maypok86/otter"
)

// ChartCache memoizes live chart PNGs per view and tick, so concurrent
// readers of the same frame draw it once.
type ChartCache struct {
	chart ChartRenderer
	cache otter.Cache[string, []byte]
}

// NewChartCache creates a cache bounded to maxEntries charts.
func NewChartCache(chart ChartRenderer, maxEntries int) *ChartCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	cache, err := otter.MustBuilder[string, []byte](maxEntries).
		Cost(func(_ string, _ []byte) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("render: failed to create chart cache: " + err.Error())
	}
	return &ChartCache{chart: chart, cache: cache}
}

// LivePNG returns the chart of frame, drawing it on a miss. hit reports
// whether the chart came from the cache.
func (c *ChartCache) LivePNG(name string, frame LiveFrame) (png []byte, hit bool, err error) {
	key := name + "@" + strconv.FormatUint(frame.Tick, 10)
	if png, ok := c.cache.Get(key); ok {
		return png, true, nil
	}
	png, err = c.chart.LivePNG(name, frame)
	if err != nil {
		return nil, false, err
	}
	c.cache.Set(key, png)
	return png, false, nil
}

// Size returns the number of cached charts.
func (c *ChartCache) Size() int { return c.cache.Size() }

// Close releases resources held by the underlying cache.
func (c *ChartCache) Close() { c.cache.Close() }
