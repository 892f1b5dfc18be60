package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohlcv-tools/ingest/internal/aggregate"
	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/exchange"
	"github.com/ohlcv-tools/ingest/internal/models"
	"github.com/ohlcv-tools/ingest/internal/planner"
	"github.com/ohlcv-tools/ingest/internal/store"
)

// syntheticFetcher serves one candle per period from 2024-01-01 through
// lastAvailable, inclusive of the request boundaries like the live hosts.
type syntheticFetcher struct {
	calls         int
	lastAvailable time.Time
	failTimeframe models.Timeframe
}

func (f *syntheticFetcher) Supports(models.Timeframe) bool { return true }

func (f *syntheticFetcher) FetchRaw(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error) {
	f.calls++
	if tf == f.failTimeframe {
		return nil, errs.SourceUnavailable(fmt.Errorf("synthetic outage"))
	}

	var out models.Series
	for ts := start; !ts.After(end); ts = ts.Add(tf.Duration()) {
		if ts.After(f.lastAvailable) {
			break
		}
		out = append(out, models.Candle{
			Timestamp: ts, Open: "100", High: "110", Low: "90", Close: "105", Volume: "1", Symbol: symbol,
		})
	}
	return out, nil
}

type recordingBackup struct {
	synced []models.Timeframe
	err    error
}

func (b *recordingBackup) Sync(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	b.synced = append(b.synced, tf)
	return true, nil
}

func newTestService(fetcher *syntheticFetcher, st store.Store, opts ...Option) *Service {
	fetchers := map[models.Capability]exchange.RawFetcher{
		models.CapabilityExchange: fetcher,
	}
	p := planner.New(fetchers, aggregate.New(),
		planner.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }))
	return NewService(p, st, opts...)
}

func TestRunSharesSourceAcrossTimeframes(t *testing.T) {
	fetcher := &syntheticFetcher{lastAvailable: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	backup := &recordingBackup{}
	svc := newTestService(fetcher, st, WithBackup(backup))

	results := svc.Run(context.Background(), "BTC-USD",
		[]models.Timeframe{models.Timeframe1d, models.Timeframe1w},
		planner.Options{StartYear: 2024, EndYear: 2024})

	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	// The daily fetch paginates in two pages; the weekly aggregation reuses
	// the cached daily series instead of fetching again.
	assert.Equal(t, 2, fetcher.calls)

	daily, err := st.Load(context.Background(), "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	assert.Len(t, daily, 366)

	weekly, err := st.Load(context.Background(), "BTC-USD", models.Timeframe1w)
	require.NoError(t, err)
	assert.Len(t, weekly, 52)

	assert.Equal(t, []models.Timeframe{models.Timeframe1d, models.Timeframe1w}, backup.synced)
	assert.True(t, results[0].BackedUp)
}

func TestRunIsolatesTimeframeFailures(t *testing.T) {
	fetcher := &syntheticFetcher{
		lastAvailable: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		failTimeframe: models.Timeframe1h,
	}
	st := store.NewMemoryStore()
	svc := newTestService(fetcher, st)

	results := svc.Run(context.Background(), "BTC-USD",
		[]models.Timeframe{models.Timeframe1h, models.Timeframe1d},
		planner.Options{StartYear: 2024, EndYear: 2024})

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, errs.ErrSourceUnavailable)
	require.NoError(t, results[1].Err)
	assert.Greater(t, results[1].RowsWritten, 0)
}

func TestRunBackupFailureIsNotFatal(t *testing.T) {
	fetcher := &syntheticFetcher{lastAvailable: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	backup := &recordingBackup{err: fmt.Errorf("quota exceeded")}
	svc := newTestService(fetcher, st, WithBackup(backup))

	results := svc.Run(context.Background(), "BTC-USD",
		[]models.Timeframe{models.Timeframe1d},
		planner.Options{StartYear: 2024, EndYear: 2024})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.False(t, results[0].BackedUp)
	assert.Greater(t, results[0].RowsWritten, 0)
}

func TestRunIdempotentSecondPass(t *testing.T) {
	fetcher := &syntheticFetcher{lastAvailable: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	svc := newTestService(fetcher, st)

	opts := planner.Options{StartYear: 2024, EndYear: 2024}
	first := svc.Run(context.Background(), "BTC-USD", []models.Timeframe{models.Timeframe1d}, opts)
	require.NoError(t, first[0].Err)
	assert.Equal(t, 366, first[0].RowsWritten)

	second := svc.Run(context.Background(), "BTC-USD", []models.Timeframe{models.Timeframe1d}, opts)
	require.NoError(t, second[0].Err)
	assert.Equal(t, 0, second[0].RowsWritten)
}

func TestRunCancelledContext(t *testing.T) {
	fetcher := &syntheticFetcher{lastAvailable: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(fetcher, store.NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := svc.Run(ctx, "BTC-USD", []models.Timeframe{models.Timeframe1d}, planner.Options{})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
