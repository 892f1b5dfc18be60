package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/models"
)

// csvHeader is the fixed column order of persisted series files.
var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume", "symbol"}

// CSVStore persists one CSV file per (symbol, timeframe) under
// <baseDir>/<exchange>/. Timestamps are RFC3339 UTC and symbols are written
// in display form (BTC/USD). Writes go through a temp file renamed into
// place, so a crash mid-write never leaves a truncated series behind.
type CSVStore struct {
	baseDir  string
	exchange string
	logger   *slog.Logger
}

// CSVOption configures a CSVStore.
type CSVOption func(*CSVStore)

// WithCSVLogger overrides the logger.
func WithCSVLogger(l *slog.Logger) CSVOption {
	return func(s *CSVStore) { s.logger = l }
}

// NewCSVStore creates a store rooted at baseDir for the named exchange.
func NewCSVStore(baseDir, exchange string, opts ...CSVOption) *CSVStore {
	s := &CSVStore{
		baseDir:  baseDir,
		exchange: exchange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path holding the series for (symbol, timeframe).
func (s *CSVStore) Path(symbol string, tf models.Timeframe) string {
	name := fmt.Sprintf("%s_%s.csv", symbol, tf)
	return filepath.Join(s.baseDir, s.exchange, name)
}

// Merge implements Store. Incoming records that fail validation are dropped
// and counted; on timestamp collision with a stored row the stored row wins,
// so a historical file is never silently rewritten by a refetch.
func (s *CSVStore) Merge(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	existing, err := s.Load(ctx, symbol, tf)
	if err != nil {
		return MergeResult{}, err
	}

	seen := make(map[int64]struct{}, len(existing))
	for i := range existing {
		seen[existing[i].Timestamp.Unix()] = struct{}{}
	}

	merged := existing
	result := MergeResult{}
	for i := range series {
		c := series[i]
		if err := c.Validate(); err != nil {
			s.logger.Warn("rejecting invalid candle at merge",
				"symbol", symbol, "timeframe", tf, "timestamp", c.Timestamp, "error", err)
			result.Rejected++
			continue
		}
		if _, dup := seen[c.Timestamp.Unix()]; dup {
			continue
		}
		seen[c.Timestamp.Unix()] = struct{}{}
		merged = append(merged, c)
		result.RowsWritten++
	}

	if result.RowsWritten == 0 {
		s.logger.Debug("merge added no new rows",
			"symbol", symbol, "timeframe", tf, "incoming", len(series), "stored", len(existing))
		return result, nil
	}

	merged.SortAscending()
	if err := s.write(symbol, tf, merged); err != nil {
		return MergeResult{}, err
	}

	s.logger.Info("merged series to disk",
		"symbol", symbol, "timeframe", tf,
		"rows_written", result.RowsWritten, "rejected", result.Rejected,
		"total", len(merged), "path", s.Path(symbol, tf))
	return result, nil
}

// Load implements Store. A missing file is an empty series, not an error.
func (s *CSVStore) Load(ctx context.Context, symbol string, tf models.Timeframe) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(symbol, tf)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Series{}, nil
		}
		return nil, fmt.Errorf("%w: opening %s: %v", errs.ErrPersistenceFailure, path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", errs.ErrPersistenceFailure, path, err)
	}
	if len(records) == 0 {
		return models.Series{}, nil
	}

	series := make(models.Series, 0, len(records)-1)
	for i, row := range records[1:] {
		candle, err := rowToCandle(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", errs.ErrPersistenceFailure, path, i+2, err)
		}
		series = append(series, *candle)
	}

	series.SortAscending()
	return series, nil
}

// Stats summarizes one stored series file.
type Stats struct {
	Path      string
	Rows      int
	FirstTime time.Time
	LastTime  time.Time
}

// Stats reads the series file for (symbol, timeframe) and reports its row
// count and time bounds. Returns fs.ErrNotExist when nothing is stored.
func (s *CSVStore) Stats(ctx context.Context, symbol string, tf models.Timeframe) (Stats, error) {
	path := s.Path(symbol, tf)
	if _, err := os.Stat(path); err != nil {
		return Stats{}, err
	}
	series, err := s.Load(ctx, symbol, tf)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Path: path, Rows: len(series)}
	if len(series) > 0 {
		st.FirstTime = series[0].Timestamp
		st.LastTime = series[len(series)-1].Timestamp
	}
	return st, nil
}

func (s *CSVStore) write(symbol string, tf models.Timeframe, series models.Series) error {
	path := s.Path(symbol, tf)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", errs.ErrPersistenceFailure, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in %s: %v", errs.ErrPersistenceFailure, dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing header: %v", errs.ErrPersistenceFailure, err)
	}
	for i := range series {
		if err := writer.Write(candleToRow(&series[i])); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: writing row: %v", errs.ErrPersistenceFailure, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: flushing %s: %v", errs.ErrPersistenceFailure, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", errs.ErrPersistenceFailure, tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", errs.ErrPersistenceFailure, path, err)
	}
	return nil
}

func candleToRow(c *models.Candle) []string {
	return []string{
		c.Timestamp.UTC().Format(time.RFC3339),
		c.Open,
		c.High,
		c.Low,
		c.Close,
		c.Volume,
		models.DisplaySymbol(c.Symbol),
	}
}

func rowToCandle(row []string) (*models.Candle, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvHeader), len(row))
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", row[0], err)
	}
	return &models.Candle{
		Timestamp: ts.UTC(),
		Open:      row[1],
		High:      row[2],
		Low:       row[3],
		Close:     row[4],
		Volume:    row[5],
		Symbol:    models.CanonicalSymbol(row[6]),
	}, nil
}
