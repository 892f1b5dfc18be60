package planner

import (
	"sync"
	"time"

	"github.com/ohlcv-tools/ingest/internal/models"
)

// Cache holds fetched source series for the duration of one ingestion run,
// so a daily series fetched for "1d" can feed the "1w" aggregation in the
// same run without a second round trip. It is passed explicitly into Obtain
// rather than living as process state, which keeps runs isolated and lets
// tests inject a pre-populated cache.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]models.Series
}

type cacheKey struct {
	symbol string
	tf     models.Timeframe
}

// NewCache creates an empty run-scoped cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]models.Series)}
}

// Put stores a series for (symbol, timeframe). An existing entry is replaced
// only if the new series is larger, so a wide historical fetch is never
// clobbered by a narrow one.
func (c *Cache) Put(symbol string, tf models.Timeframe, series models.Series) {
	if c == nil || len(series) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey{symbol: symbol, tf: tf}
	if existing, ok := c.entries[k]; ok && len(existing) >= len(series) {
		return
	}
	c.entries[k] = series
}

// Lookup returns the cached series for (symbol, timeframe) if its coverage
// fully contains [start, end). A partially covering entry is a miss.
func (c *Cache) Lookup(symbol string, tf models.Timeframe, start, end time.Time) (models.Series, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.entries[cacheKey{symbol: symbol, tf: tf}]
	if !ok {
		return nil, false
	}
	covStart, covEnd, ok := series.Coverage(tf)
	if !ok || covStart.After(start) || covEnd.Before(end) {
		return nil, false
	}
	return series, true
}
