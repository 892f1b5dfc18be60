// Package ingest orchestrates a full run: obtain each requested timeframe
// through the planner, merge it into the local store, and mirror the merged
// series to the configured backup destination.
package ingest

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ohlcv-tools/ingest/internal/backup"
	"github.com/ohlcv-tools/ingest/internal/models"
	"github.com/ohlcv-tools/ingest/internal/planner"
	"github.com/ohlcv-tools/ingest/internal/store"
)

// Result reports the outcome for one timeframe within a run. Err is set when
// that timeframe failed; other timeframes in the same run proceed regardless.
type Result struct {
	Timeframe   models.Timeframe
	Fetched     int
	RowsWritten int
	Rejected    int
	BackedUp    bool
	Err         error
}

// Service wires the planner, store, and backup boundary into one run loop.
type Service struct {
	planner *planner.Planner
	store   store.Store
	backup  backup.SeriesBackup
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBackup sets the backup destination; the default is a no-op.
func WithBackup(b backup.SeriesBackup) Option {
	return func(s *Service) { s.backup = b }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an ingestion service.
func NewService(p *planner.Planner, st store.Store, opts ...Option) *Service {
	s := &Service{
		planner: p,
		store:   st,
		backup:  backup.Noop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ingests the given timeframes for one symbol. Timeframes are processed
// sequentially and share one run-scoped fetch cache, so a daily fetch feeds
// the weekly aggregation without a second round trip. A failed timeframe is
// recorded in its Result and does not abort the others; a canceled context
// stops the run.
func (s *Service) Run(ctx context.Context, symbol string, tfs []models.Timeframe, opts planner.Options) []Result {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "symbol", symbol)
	logger.Info("starting ingestion run", "timeframes", tfs)

	cache := planner.NewCache()
	results := make([]Result, 0, len(tfs))

	for _, tf := range tfs {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Timeframe: tf, Err: err})
			continue
		}
		results = append(results, s.runOne(ctx, logger, cache, symbol, tf, opts))
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("ingestion run finished", "timeframes", len(results), "failed", failed)
	return results
}

func (s *Service) runOne(ctx context.Context, logger *slog.Logger, cache *planner.Cache, symbol string, tf models.Timeframe, opts planner.Options) Result {
	result := Result{Timeframe: tf}

	series, err := s.planner.Obtain(ctx, cache, symbol, tf, opts)
	if err != nil {
		logger.Error("obtaining series failed", "timeframe", tf, "error", err)
		result.Err = err
		return result
	}
	result.Fetched = len(series)

	merge, err := s.store.Merge(ctx, symbol, tf, series)
	if err != nil {
		logger.Error("merging series failed", "timeframe", tf, "error", err)
		result.Err = err
		return result
	}
	result.RowsWritten = merge.RowsWritten
	result.Rejected = merge.Rejected

	stored, err := s.store.Load(ctx, symbol, tf)
	if err != nil {
		logger.Error("reloading merged series failed", "timeframe", tf, "error", err)
		result.Err = err
		return result
	}

	updated, err := s.backup.Sync(ctx, symbol, tf, stored)
	if err != nil {
		// Backup is best effort; the merged data is already safe on disk.
		logger.Warn("backup sync failed", "timeframe", tf, "error", err)
	}
	result.BackedUp = updated

	logger.Info("timeframe ingested",
		"timeframe", tf, "fetched", result.Fetched,
		"rows_written", result.RowsWritten, "rejected", result.Rejected,
		"backed_up", result.BackedUp)
	return result
}
