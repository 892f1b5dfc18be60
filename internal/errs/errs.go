// Package errs defines the error taxonomy of the ingestion core and the
// retry helper used around network calls. Sentinel errors are wrapped with
// %w throughout the codebase so callers classify failures with errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors. Each maps to one failure class of the caller-facing
// operations (Obtain, Merge, Load).
var (
	// ErrInvalidSymbol means the trading-pair identifier failed the
	// canonical BASE-QUOTE form check.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUnsupportedTimeframe means the timeframe tag is not in the
	// supported enumeration.
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

	// ErrSourceUnavailable means all retries against a source fetcher were
	// exhausted, or a whole page of records was unusable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInsufficientSourceData means a derived timeframe's required source
	// range could not be fully obtained, so no complete bucket could be
	// aggregated.
	ErrInsufficientSourceData = errors.New("insufficient source data")

	// ErrEmptySourceSeries means an aggregation input had zero records.
	ErrEmptySourceSeries = errors.New("empty source series")

	// ErrInvalidCandle means an individual record violated the OHLC
	// invariant or had malformed fields.
	ErrInvalidCandle = errors.New("invalid candle")

	// ErrPersistenceFailure means a disk write or atomic replace failed.
	// Fatal to that merge call only.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// RateLimitError is returned by fetchers when the host answers 429. It is
// always retryable; RetryAfter carries the host's requested delay when the
// response included one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// RetryPolicy bounds the retry loop around one network request.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy matches the fetchers' defaults: 4 attempts with
// exponential backoff from 500ms up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// Permanent marks an error as non-retryable so Retry stops immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs op with exponential backoff until it succeeds, returns a
// permanent error, the attempt ceiling is hit, or the context is cancelled.
// Transient failures (anything not wrapped with Permanent) are retried.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.MaxElapsedTime = 0

	attempts := uint64(0)
	if policy.MaxAttempts > 1 {
		attempts = uint64(policy.MaxAttempts - 1)
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx))
}

// SourceUnavailable wraps a retry-exhausted fetch error so that callers see
// both the ErrSourceUnavailable class and the underlying cause.
func SourceUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}
