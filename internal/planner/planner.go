// Package planner turns a caller's (symbol, timeframe, range) request into
// the paginated fetches and aggregations needed to produce one validated,
// sorted, deduplicated series. It is the single entry point for obtaining
// candle data; fetchers and the aggregator are injected collaborators.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ohlcv-tools/ingest/internal/aggregate"
	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/exchange"
	"github.com/ohlcv-tools/ingest/internal/models"
)

const (
	// defaultWindowCandles is the number of most-recent candles fetched
	// when no year range is requested.
	defaultWindowCandles = 300

	// pageCandles is the page size the planner paginates with, matching
	// the host cap both fetcher variants enforce.
	pageCandles = 300

	// minYear is the earliest accepted start year; the exchange has no
	// candle history before it.
	minYear = 2010
)

// Options narrow an Obtain call to a historical year range. Zero values mean
// "not set"; with neither year set the most recent default window is fetched.
// With only EndYear set the range starts two years earlier, mirroring the
// fetch surface's historical behavior.
type Options struct {
	StartYear int
	EndYear   int
}

// Planner resolves timeframe classification and plans fetches.
type Planner struct {
	fetchers   map[models.Capability]exchange.RawFetcher
	aggregator *aggregate.Aggregator
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New creates a Planner over the given fetcher variants and aggregator.
func New(fetchers map[models.Capability]exchange.RawFetcher, aggregator *aggregate.Aggregator, opts ...Option) *Planner {
	p := &Planner{
		fetchers:   fetchers,
		aggregator: aggregator,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Obtain fetches (and, for derived timeframes, aggregates) the series for
// one (symbol, timeframe) request. Pages are issued sequentially oldest
// first; the returned series is sorted ascending, deduplicated, and every
// record satisfies the OHLC invariant. cache may be nil to disable
// run-scoped source reuse.
func (p *Planner) Obtain(ctx context.Context, cache *Cache, symbol string, tf models.Timeframe, opts Options) (models.Series, error) {
	canonical, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedTimeframe, tf)
	}

	start, end, err := p.resolveRange(tf, opts)
	if err != nil {
		return nil, err
	}

	p.logger.Info("obtaining series",
		"symbol", canonical, "timeframe", tf, "start", start, "end", end,
		"derived", !tf.Native())

	if tf.Native() {
		series, err := p.obtainNative(ctx, canonical, tf, start, end)
		if err != nil {
			return nil, err
		}
		cache.Put(canonical, tf, series)
		return series, nil
	}

	return p.obtainDerived(ctx, cache, canonical, tf, start, end)
}

// resolveRange maps the year options onto a concrete half-open UTC interval.
func (p *Planner) resolveRange(tf models.Timeframe, opts Options) (time.Time, time.Time, error) {
	now := p.now().UTC()

	if opts.StartYear == 0 && opts.EndYear == 0 {
		return now.Add(-time.Duration(defaultWindowCandles) * tf.Duration()), now, nil
	}

	startYear, endYear := opts.StartYear, opts.EndYear
	if endYear == 0 {
		endYear = now.Year()
	}
	if startYear == 0 {
		startYear = endYear - 2
	}

	if startYear > endYear {
		return time.Time{}, time.Time{}, fmt.Errorf("start year %d is after end year %d", startYear, endYear)
	}
	if startYear < minYear || endYear > now.Year() {
		return time.Time{}, time.Time{}, fmt.Errorf("year range %d-%d outside supported bounds %d-%d", startYear, endYear, minYear, now.Year())
	}

	start := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	if end.After(now) {
		end = now
	}
	return start, end, nil
}

// obtainNative paginates [start, end) across the fetcher serving the
// timeframe's capability. Overlap at page boundaries (hosts may return the
// boundary candle in both pages) is trimmed by timestamp while
// concatenating; invalid records are dropped and counted, and a page whose
// fresh records are all invalid escalates.
func (p *Planner) obtainNative(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error) {
	fetcher, ok := p.fetchers[tf.Capability()]
	if !ok {
		return nil, fmt.Errorf("%w: no fetcher configured for capability %q", errs.ErrSourceUnavailable, tf.Capability())
	}

	pageSpan := time.Duration(pageCandles) * tf.Duration()
	pages := 0
	for cur := start; cur.Before(end); cur = cur.Add(pageSpan) {
		pages++
	}

	var (
		result  models.Series
		lastTS  time.Time
		haveTS  bool
		dropped int
	)

	page := 0
	for cur := start; cur.Before(end); cur = cur.Add(pageSpan) {
		page++
		pageEnd := cur.Add(pageSpan)
		if pageEnd.After(end) {
			pageEnd = end
		}

		p.logger.Debug("fetching page",
			"symbol", symbol, "timeframe", tf, "page", page, "pages", pages,
			"start", cur, "end", pageEnd)

		fetched, err := fetcher.FetchRaw(ctx, symbol, tf, cur, pageEnd)
		if err != nil {
			return nil, fmt.Errorf("page %d/%d: %w", page, pages, err)
		}

		fresh, invalid := 0, 0
		for i := range fetched {
			c := fetched[i]
			if haveTS && !c.Timestamp.After(lastTS) {
				continue // boundary candle already seen in the previous page
			}
			fresh++
			if err := c.Validate(); err != nil {
				p.logger.Warn("dropping invalid candle",
					"symbol", symbol, "timeframe", tf, "timestamp", c.Timestamp, "error", err)
				invalid++
				continue
			}
			result = append(result, c)
			lastTS = c.Timestamp
			haveTS = true
		}
		dropped += invalid

		if fresh > 0 && invalid == fresh {
			return nil, fmt.Errorf("page %d/%d: %w", page, pages,
				errs.SourceUnavailable(fmt.Errorf("all %d records in page failed validation", fresh)))
		}
	}

	if dropped > 0 {
		p.logger.Warn("dropped invalid candles during fetch",
			"symbol", symbol, "timeframe", tf, "dropped", dropped, "kept", len(result))
	}

	return result.Normalize(), nil
}

// obtainDerived fetches the source-timeframe series over a range expanded
// back to the enclosing bucket boundary, then aggregates. The run cache is
// consulted first so one source fetch serves sibling timeframes.
func (p *Planner) obtainDerived(ctx context.Context, cache *Cache, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error) {
	sourceTF := tf.Source()
	expandedStart := p.aggregator.BucketStart(start, tf)

	source, hit := cache.Lookup(symbol, sourceTF, expandedStart, end)
	if hit {
		p.logger.Debug("source series served from run cache",
			"symbol", symbol, "source_timeframe", sourceTF)
	} else {
		var err error
		source, err = p.obtainNative(ctx, symbol, sourceTF, expandedStart, end)
		if err != nil {
			return nil, fmt.Errorf("fetching %s source for %s: %w", sourceTF, tf, err)
		}
		cache.Put(symbol, sourceTF, source)
	}

	if len(source) == 0 {
		return nil, fmt.Errorf("%w: no %s records available to derive %s", errs.ErrInsufficientSourceData, sourceTF, tf)
	}

	derived, err := p.aggregator.Aggregate(source, tf)
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return nil, fmt.Errorf("%w: %s source covers no complete %s bucket", errs.ErrInsufficientSourceData, sourceTF, tf)
	}

	return derived, nil
}
