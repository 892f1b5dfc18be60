// Package exchange implements the source-fetcher boundary: two Coinbase API
// clients that expose raw candle data through one capability contract. The
// variants differ only in authentication and wire encoding; the planner
// treats them uniformly through RawFetcher.
package exchange

import (
	"context"
	"time"

	"github.com/ohlcv-tools/ingest/internal/models"
)

// RawFetcher fetches raw candles for a half-open range [start, end) at one of
// the fetcher's native timeframes.
//
// Implementations are responsible for the host's page-size and time-window
// limits (splitting a wide request into smaller ones as needed), for
// translating the shared timeframe enumeration into the host's granularity
// encoding, and for surfacing rate-limit responses as a retryable
// errs.RateLimitError. Returned series are sorted ascending and deduplicated,
// but record-level OHLC validation is the caller's concern.
type RawFetcher interface {
	FetchRaw(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error)

	// Supports reports whether tf is in this fetcher's native set.
	Supports(tf models.Timeframe) bool
}

const (
	// maxCandlesPerRequest is the host's hard cap per candles request,
	// shared by both API variants.
	maxCandlesPerRequest = 300

	requestTimeout = 30 * time.Second

	maxRequestsPerSecond = 10
	rateLimitBurst       = 1
)

// timeChunk is one sub-request window within a fetch range.
type timeChunk struct {
	start time.Time
	end   time.Time
}

// splitRange cuts [start, end) into chunks each covering at most
// maxCandlesPerRequest candles at the given granularity.
func splitRange(start, end time.Time, candleDuration time.Duration) []timeChunk {
	chunkSpan := time.Duration(maxCandlesPerRequest) * candleDuration

	var chunks []timeChunk
	for cur := start; cur.Before(end); cur = cur.Add(chunkSpan) {
		chunkEnd := cur.Add(chunkSpan)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeChunk{start: cur, end: chunkEnd})
	}
	return chunks
}
