package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ohlcv-tools/ingest/internal/errs"
)

// getWithRetry performs a rate-limited GET with exponential-backoff retries.
// Timeouts, 429 and 5xx responses are retried up to the policy ceiling; other
// 4xx responses fail immediately. headers may be nil; when set it is consulted
// per attempt so short-lived credentials stay fresh across retries.
func getWithRetry(ctx context.Context, client *http.Client, limiter *rate.Limiter, policy errs.RetryPolicy, logger *slog.Logger, url string, headers func() (http.Header, error)) ([]byte, error) {
	var body []byte

	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return errs.Permanent(fmt.Errorf("rate limit wait failed: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errs.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "ohlcv-ingest/1.0")
		if headers != nil {
			extra, err := headers()
			if err != nil {
				return errs.Permanent(fmt.Errorf("failed to build request headers: %w", err))
			}
			for k, vs := range extra {
				for _, v := range vs {
					req.Header.Set(k, v)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			rlErr := &errs.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			logger.Warn("rate limited by host", "url", url, "retry_after", rlErr.RetryAfter)
			return rlErr
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode >= 400 {
			return errs.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, respBody))
		}

		body = respBody
		return nil
	}

	if err := errs.Retry(ctx, policy, op); err != nil {
		return nil, err
	}
	return body, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}
