// Package backup defines the boundary for mirroring stored series to an
// external destination after a successful merge. A backup failure never
// fails the ingestion run; it is reported and logged only.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ohlcv-tools/ingest/internal/models"
)

// SheetNames maps timeframes to the tab names used by spreadsheet-style
// destinations. Only merge-worthy timeframes have a tab.
var SheetNames = map[models.Timeframe]string{
	models.Timeframe1h: "H1",
	models.Timeframe4h: "H4",
	models.Timeframe6h: "H6",
	models.Timeframe1d: "D1",
	models.Timeframe1w: "W1",
}

// SeriesBackup mirrors one series to an external destination. Sync returns
// whether the destination was updated; implementations should be idempotent
// across retries of the same series.
type SeriesBackup interface {
	Sync(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (updated bool, err error)
}

// Noop is the default backup: it does nothing and reports no update.
type Noop struct{}

// Sync implements SeriesBackup.
func (Noop) Sync(context.Context, string, models.Timeframe, models.Series) (bool, error) {
	return false, nil
}

// Mirror copies series to a second directory tree as JSON snapshots, one
// file per symbol and sheet name. Timeframes without a sheet name are not
// mirrored. A snapshot is rewritten only when the series grew, so repeated
// syncs of unchanged data report no update.
type Mirror struct {
	dir    string
	logger *slog.Logger
}

// NewMirror creates a Mirror rooted at dir.
func NewMirror(dir string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{dir: dir, logger: logger}
}

type snapshot struct {
	Symbol  string        `json:"symbol"`
	Sheet   string        `json:"sheet"`
	Rows    int           `json:"rows"`
	Candles models.Series `json:"candles"`
}

// Sync implements SeriesBackup.
func (m *Mirror) Sync(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sheet, ok := SheetNames[tf]
	if !ok {
		return false, nil
	}

	path := filepath.Join(m.dir, symbol, sheet+".json")
	if prev, err := os.ReadFile(path); err == nil {
		var old snapshot
		if json.Unmarshal(prev, &old) == nil && old.Rows >= len(series) {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating mirror directory: %w", err)
	}

	data, err := json.Marshal(snapshot{
		Symbol:  symbol,
		Sheet:   sheet,
		Rows:    len(series),
		Candles: series,
	})
	if err != nil {
		return false, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing snapshot: %w", err)
	}

	m.logger.Debug("mirrored series snapshot", "symbol", symbol, "sheet", sheet, "rows", len(series))
	return true, nil
}
