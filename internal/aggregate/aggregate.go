// Package aggregate derives non-natively-fetchable timeframes from a finer
// source series by calendar-bucketed aggregation: 4h candles from 1h, weekly
// candles from daily. Bucket labels are always the bucket start.
package aggregate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/models"
)

// Aggregator buckets a source series into a coarser target timeframe.
//
// Sub-day targets use fixed-size buckets aligned to the UTC day start. The
// week target uses calendar weeks beginning at 00:00 UTC on the configured
// week-start day.
//
// Edge buckets the source series does not fully cover are withheld rather
// than emitted as false-complete candles: a bucket is emitted only when the
// source coverage interval contains the whole bucket window. Coverage is
// judged by extent, not record count, so interior gaps in the source do not
// suppress a bucket.
type Aggregator struct {
	weekStart time.Weekday
	logger    *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWeekStart sets the weekday on which weekly buckets begin.
func WithWeekStart(d time.Weekday) Option {
	return func(a *Aggregator) { a.weekStart = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New creates an Aggregator. Weeks default to starting on Monday.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		weekStart: time.Monday,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// bucket accumulates one output candle.
type bucket struct {
	start  time.Time
	open   string
	high   decimal.Decimal
	low    decimal.Decimal
	close  string
	volume decimal.Decimal
	symbol string
}

// Aggregate derives target-timeframe candles from source. The source series
// must be at target.Source() granularity; the caller guarantees this since
// candles do not carry their own timeframe tag. Returns ErrEmptySourceSeries
// for an empty input and ErrUnsupportedTimeframe when target is not derived.
func (a *Aggregator) Aggregate(source models.Series, target models.Timeframe) (models.Series, error) {
	if !target.Valid() || target.Native() {
		return nil, fmt.Errorf("%w: %q is not a derived timeframe", errs.ErrUnsupportedTimeframe, target)
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: nothing to aggregate into %s", errs.ErrEmptySourceSeries, target)
	}

	src := source.Normalize()
	srcDuration := target.Source().Duration()
	coverageStart := src[0].Timestamp
	coverageEnd := src[len(src)-1].Timestamp.Add(srcDuration)

	var (
		out      models.Series
		current  *bucket
		withheld int
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		bucketEnd := a.bucketEnd(current.start, target)
		// Withhold edge buckets the source does not fully cover.
		if current.start.Before(coverageStart) || bucketEnd.After(coverageEnd) {
			withheld++
			current = nil
			return nil
		}
		candle, err := models.NewCandle(
			current.start,
			current.open,
			current.high.String(),
			current.low.String(),
			current.close,
			current.volume.String(),
			current.symbol,
		)
		if err != nil {
			return fmt.Errorf("aggregated bucket at %s: %w", current.start, err)
		}
		out = append(out, *candle)
		current = nil
		return nil
	}

	for i := range src {
		c := &src[i]

		high, err := c.HighDecimal()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCandle, err)
		}
		low, err := c.LowDecimal()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCandle, err)
		}
		volume, err := c.VolumeDecimal()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCandle, err)
		}

		start := a.BucketStart(c.Timestamp, target)
		if current == nil || !start.Equal(current.start) {
			if err := flush(); err != nil {
				return nil, err
			}
			current = &bucket{
				start:  start,
				open:   c.Open,
				high:   high,
				low:    low,
				close:  c.Close,
				volume: volume,
				symbol: c.Symbol,
			}
			continue
		}

		current.high = decimal.Max(current.high, high)
		current.low = decimal.Min(current.low, low)
		current.close = c.Close
		current.volume = current.volume.Add(volume)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	a.logger.Debug("aggregated series",
		"target", target, "source_records", len(src), "buckets", len(out), "withheld", withheld)

	return out, nil
}

// BucketStart returns the start of the target-timeframe bucket containing t.
// Sub-day buckets align to the UTC day (and therefore to the epoch, since
// every supported sub-day duration divides 24h); week buckets align to the
// configured week-start day at 00:00 UTC.
func (a *Aggregator) BucketStart(t time.Time, target models.Timeframe) time.Time {
	t = t.UTC()
	if target == models.Timeframe1w {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		back := (int(day.Weekday()) - int(a.weekStart) + 7) % 7
		return day.AddDate(0, 0, -back)
	}
	return t.Truncate(target.Duration())
}

func (a *Aggregator) bucketEnd(start time.Time, target models.Timeframe) time.Time {
	if target == models.Timeframe1w {
		return start.AddDate(0, 0, 7)
	}
	return start.Add(target.Duration())
}
