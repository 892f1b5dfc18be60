// Package store persists candle series locally, one file per
// (exchange, symbol, timeframe). Merging is idempotent: re-ingesting an
// overlapping range never duplicates or rewrites rows that already exist.
package store

import (
	"context"

	"github.com/ohlcv-tools/ingest/internal/models"
)

// MergeResult reports what a Merge call changed.
type MergeResult struct {
	// RowsWritten is the number of rows added that were not already present.
	RowsWritten int
	// Rejected is the number of incoming records dropped for failing
	// validation before the merge.
	Rejected int
}

// Store is the persistence contract for candle series. Merge unions the
// incoming series with whatever is already stored for the key, existing rows
// winning on timestamp collision. Load returns the full stored series,
// sorted ascending, or an empty series when nothing is stored yet.
type Store interface {
	Merge(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (MergeResult, error)
	Load(ctx context.Context, symbol string, tf models.Timeframe) (models.Series, error)
}
