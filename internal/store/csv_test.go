package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohlcv-tools/ingest/internal/models"
)

func storeCandle(ts time.Time, open string) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Open:      open,
		High:      "110.5",
		Low:       "90.25",
		Close:     "105",
		Volume:    "12.5",
		Symbol:    "BTC-USD",
	}
}

func TestCSVStoreMergeAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := models.Series{
		storeCandle(base, "100"),
		storeCandle(base.AddDate(0, 0, 1), "101"),
		storeCandle(base.AddDate(0, 0, 2), "102"),
	}

	result, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, series)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsWritten)
	assert.Equal(t, 0, result.Rejected)

	loaded, err := s.Load(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	assert.Equal(t, series, loaded)
}

func TestCSVStoreFileFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	ts := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	_, err := s.Merge(ctx, "BTC-USD", models.Timeframe1w, models.Series{storeCandle(ts, "100")})
	require.NoError(t, err)

	path := filepath.Join(dir, "coinbase", "BTC-USD_1w.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,open,high,low,close,volume,symbol", lines[0])
	assert.Equal(t, "2024-01-07T00:00:00Z,100,110.5,90.25,105,12.5,BTC/USD", lines[1])
}

func TestCSVStoreIdempotentMerge(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := models.Series{storeCandle(base, "100"), storeCandle(base.AddDate(0, 0, 1), "101")}

	first, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, series)
	require.NoError(t, err)
	require.Equal(t, 2, first.RowsWritten)

	before, err := os.ReadFile(s.Path("BTC-USD", models.Timeframe1d))
	require.NoError(t, err)

	second, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, series)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RowsWritten)

	after, err := os.ReadFile(s.Path("BTC-USD", models.Timeframe1d))
	require.NoError(t, err)
	assert.Equal(t, before, after, "re-merging identical data must leave the file byte-identical")
}

func TestCSVStoreExistingRowsWin(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{storeCandle(ts, "100")})
	require.NoError(t, err)

	// Same timestamp, different payload: the stored row is kept.
	conflicting := storeCandle(ts, "999")
	result, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{conflicting})
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowsWritten)

	loaded, err := s.Load(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "100", loaded[0].Open)
}

func TestCSVStoreMergeInterleavesAndSorts(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{
		storeCandle(base, "100"),
		storeCandle(base.AddDate(0, 0, 4), "104"),
	})
	require.NoError(t, err)

	result, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{
		storeCandle(base.AddDate(0, 0, 2), "102"),
		storeCandle(base.AddDate(0, 0, 4), "999"), // dup, stored row wins
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsWritten)

	loaded, err := s.Load(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.True(t, loaded.IsSorted())
	assert.Equal(t, "104", loaded[2].Open)
}

func TestCSVStoreRejectsInvalidCandles(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bad := storeCandle(base.AddDate(0, 0, 1), "100")
	bad.High = "50" // violates the OHLC invariant

	result, err := s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{
		storeCandle(base, "100"),
		bad,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsWritten)
	assert.Equal(t, 1, result.Rejected)

	loaded, err := s.Load(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, base, loaded[0].Timestamp)
}

func TestCSVStoreLoadMissingFile(t *testing.T) {
	s := NewCSVStore(t.TempDir(), "coinbase")
	loaded, err := s.Load(context.Background(), "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCSVStoreStats(t *testing.T) {
	dir := t.TempDir()
	s := NewCSVStore(dir, "coinbase")
	ctx := context.Background()

	_, err := s.Stats(ctx, "BTC-USD", models.Timeframe1d)
	assert.True(t, os.IsNotExist(err))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{
		storeCandle(base, "100"),
		storeCandle(base.AddDate(0, 0, 1), "101"),
	})
	require.NoError(t, err)

	st, err := s.Stats(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Rows)
	assert.Equal(t, base, st.FirstTime)
	assert.Equal(t, base.AddDate(0, 0, 1), st.LastTime)
}

func TestMemoryStoreMatchesCSVSemantics(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{storeCandle(ts, "100")})
	require.NoError(t, err)

	result, err := m.Merge(ctx, "BTC-USD", models.Timeframe1d, models.Series{storeCandle(ts, "999")})
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowsWritten)

	loaded, err := m.Load(ctx, "BTC-USD", models.Timeframe1d)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "100", loaded[0].Open)
}
