package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/models"
)

func dailyCandle(ts time.Time, open, high, low, closePrice, volume string) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Symbol:    "BTC-USD",
	}
}

func hourlyCandle(ts time.Time, seq int) models.Candle {
	price := 100 + seq
	return models.Candle{
		Timestamp: ts,
		Open:      fmt.Sprintf("%d", price),
		High:      fmt.Sprintf("%d", price+2),
		Low:       fmt.Sprintf("%d", price-1),
		Close:     fmt.Sprintf("%d", price+1),
		Volume:    "10",
		Symbol:    "BTC-USD",
	}
}

func TestAggregateFullSundayWeek(t *testing.T) {
	// One complete Sunday-to-Saturday calendar week of daily candles,
	// 2024-01-07 through 2024-01-13.
	sunday := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	opens := []string{"100", "102", "101", "105", "103", "107", "108"}
	highs := []string{"103", "104", "106", "106", "108", "109", "110"}
	lows := []string{"99", "100", "99", "102", "101", "105", "106"}
	closes := []string{"102", "101", "105", "103", "107", "108", "109"}
	volumes := []string{"10", "12", "9", "11", "14", "13", "15"}

	var source models.Series
	for i := 0; i < 7; i++ {
		source = append(source, dailyCandle(sunday.AddDate(0, 0, i),
			opens[i], highs[i], lows[i], closes[i], volumes[i]))
	}

	agg := New(WithWeekStart(time.Sunday))
	out, err := agg.Aggregate(source, models.Timeframe1w)
	require.NoError(t, err)
	require.Len(t, out, 1)

	weekly := out[0]
	assert.Equal(t, sunday, weekly.Timestamp)
	assert.Equal(t, "100", weekly.Open)
	assert.Equal(t, "110", weekly.High)
	assert.Equal(t, "99", weekly.Low)
	assert.Equal(t, "109", weekly.Close)
	assert.Equal(t, "84", weekly.Volume)
	assert.Equal(t, "BTC-USD", weekly.Symbol)
}

func TestAggregateWithholdsPartialWeek(t *testing.T) {
	// Sunday through Thursday only: the week bucket is incomplete and must
	// not be emitted as a false-complete candle.
	sunday := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 5; i++ {
		source = append(source, dailyCandle(sunday.AddDate(0, 0, i),
			"100", "110", "99", "105", "10"))
	}

	agg := New(WithWeekStart(time.Sunday))
	out, err := agg.Aggregate(source, models.Timeframe1w)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAggregateWithholdsLeadingPartialWeek(t *testing.T) {
	// Two weeks of daily data starting mid-week (Wednesday): the first
	// bucket is partial and withheld, the following complete week survives.
	wednesday := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 12; i++ {
		source = append(source, dailyCandle(wednesday.AddDate(0, 0, i),
			"100", "110", "99", "105", "10"))
	}

	agg := New(WithWeekStart(time.Sunday))
	out, err := agg.Aggregate(source, models.Timeframe1w)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC), out[0].Timestamp)
}

func TestAggregateMondayWeekStart(t *testing.T) {
	// The default week starts Monday: 2024-01-01 is a Monday, so a full
	// Mon-Sun span produces one bucket labeled at the Monday.
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 7; i++ {
		source = append(source, dailyCandle(monday.AddDate(0, 0, i),
			"100", "110", "99", "105", "10"))
	}

	agg := New()
	out, err := agg.Aggregate(source, models.Timeframe1w)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, monday, out[0].Timestamp)
}

func TestAggregateFourHourFromHourly(t *testing.T) {
	dayStart := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 8; i++ {
		source = append(source, hourlyCandle(dayStart.Add(time.Duration(i)*time.Hour), i))
	}

	agg := New()
	out, err := agg.Aggregate(source, models.Timeframe4h)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, dayStart, first.Timestamp)
	assert.Equal(t, "100", first.Open)  // hour 0 open
	assert.Equal(t, "105", first.High)  // hour 3 high (103+2)
	assert.Equal(t, "99", first.Low)    // hour 0 low (100-1)
	assert.Equal(t, "104", first.Close) // hour 3 close (103+1)
	assert.Equal(t, "40", first.Volume)

	second := out[1]
	assert.Equal(t, dayStart.Add(4*time.Hour), second.Timestamp)
	assert.Equal(t, "104", second.Open)
	assert.Equal(t, "109", second.High)
	assert.Equal(t, "103", second.Low)
	assert.Equal(t, "108", second.Close)
}

func TestAggregateFourHourWithholdsPartialEdges(t *testing.T) {
	// Coverage starts at 01:00, so the 00:00 bucket is partial; the 04:00
	// bucket is complete; coverage ends at 09:00 so the 08:00 bucket is
	// partial too. Only the middle bucket is emitted.
	start := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 8; i++ {
		source = append(source, hourlyCandle(start.Add(time.Duration(i)*time.Hour), i))
	}

	agg := New()
	out, err := agg.Aggregate(source, models.Timeframe4h)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC), out[0].Timestamp)
}

func TestAggregateInteriorGapDoesNotWithhold(t *testing.T) {
	// A missing source record inside a bucket does not suppress it:
	// coverage is judged by extent, not record count.
	dayStart := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	var source models.Series
	for i := 0; i < 4; i++ {
		if i == 2 {
			continue
		}
		source = append(source, hourlyCandle(dayStart.Add(time.Duration(i)*time.Hour), i))
	}

	agg := New()
	out, err := agg.Aggregate(source, models.Timeframe4h)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, dayStart, out[0].Timestamp)
	assert.Equal(t, "30", out[0].Volume)
}

func TestAggregateEmptySource(t *testing.T) {
	agg := New()
	_, err := agg.Aggregate(models.Series{}, models.Timeframe1w)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEmptySourceSeries)
}

func TestAggregateRejectsNativeTarget(t *testing.T) {
	agg := New()
	source := models.Series{dailyCandle(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "100", "110", "99", "105", "10")}

	for _, target := range []models.Timeframe{models.Timeframe1h, models.Timeframe1d, models.Timeframe("2h")} {
		_, err := agg.Aggregate(source, target)
		require.Error(t, err, "target %s", target)
		assert.ErrorIs(t, err, errs.ErrUnsupportedTimeframe)
	}
}

func TestBucketStart(t *testing.T) {
	agg := New(WithWeekStart(time.Sunday))

	// Wednesday 2024-01-10 15:30 falls in the week starting Sunday 01-07.
	wednesday := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), agg.BucketStart(wednesday, models.Timeframe1w))

	// A timestamp already on the week start maps to itself.
	sunday := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, sunday, agg.BucketStart(sunday, models.Timeframe1w))

	// Sub-day buckets truncate within the UTC day.
	assert.Equal(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), agg.BucketStart(wednesday, models.Timeframe4h))

	monday := New()
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), monday.BucketStart(wednesday, models.Timeframe1w))
}
