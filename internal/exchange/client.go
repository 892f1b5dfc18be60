package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ohlcv-tools/ingest/internal/errs"
	"github.com/ohlcv-tools/ingest/internal/models"
)

const defaultExchangeBaseURL = "https://api.exchange.coinbase.com"

// ExchangeClient fetches candles from the public Exchange API. Requests are
// unauthenticated; responses are arrays of [time, low, high, open, close,
// volume] rows ordered newest first. Granularity is encoded as seconds.
type ExchangeClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	retryPolicy errs.RetryPolicy
	logger      *slog.Logger
}

// ExchangeClientOption configures an ExchangeClient.
type ExchangeClientOption func(*ExchangeClient)

// WithExchangeBaseURL overrides the API endpoint, used by tests.
func WithExchangeBaseURL(baseURL string) ExchangeClientOption {
	return func(c *ExchangeClient) { c.baseURL = baseURL }
}

// WithExchangeRetryPolicy overrides the retry policy.
func WithExchangeRetryPolicy(p errs.RetryPolicy) ExchangeClientOption {
	return func(c *ExchangeClient) { c.retryPolicy = p }
}

// WithExchangeLogger overrides the logger.
func WithExchangeLogger(l *slog.Logger) ExchangeClientOption {
	return func(c *ExchangeClient) { c.logger = l }
}

// NewExchangeClient creates a public Exchange API client.
func NewExchangeClient(opts ...ExchangeClientOption) *ExchangeClient {
	c := &ExchangeClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(maxRequestsPerSecond), rateLimitBurst),
		baseURL:     defaultExchangeBaseURL,
		retryPolicy: errs.DefaultRetryPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports implements RawFetcher.
func (c *ExchangeClient) Supports(tf models.Timeframe) bool {
	return tf.Capability() == models.CapabilityExchange
}

// FetchRaw implements RawFetcher. The range is split into windows of at most
// 300 candles; windows are requested sequentially oldest first.
func (c *ExchangeClient) FetchRaw(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error) {
	if !c.Supports(tf) {
		return nil, fmt.Errorf("%w: %s is not served by the Exchange API", errs.ErrUnsupportedTimeframe, tf)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %s is not after start %s", end, start)
	}

	chunks := splitRange(start, end, tf.Duration())
	c.logger.Debug("fetching candles from Exchange API",
		"symbol", symbol, "timeframe", tf, "start", start, "end", end, "chunks", len(chunks))

	var all models.Series
	for i, chunk := range chunks {
		candles, err := c.fetchChunk(ctx, symbol, tf, chunk.start, chunk.end)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		all = append(all, candles...)
	}

	return all.Normalize(), nil
}

func (c *ExchangeClient) fetchChunk(ctx context.Context, symbol string, tf models.Timeframe, start, end time.Time) (models.Series, error) {
	params := url.Values{}
	params.Set("granularity", strconv.Itoa(int(tf.Duration().Seconds())))
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))

	requestURL := fmt.Sprintf("%s/products/%s/candles?%s", c.baseURL, symbol, params.Encode())

	body, err := getWithRetry(ctx, c.httpClient, c.rateLimiter, c.retryPolicy, c.logger, requestURL, nil)
	if err != nil {
		return nil, errs.SourceUnavailable(err)
	}

	// Rows arrive as [time, low, high, open, close, volume], newest first.
	var rows [][]json.Number
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errs.SourceUnavailable(fmt.Errorf("failed to parse candles response: %w", err))
	}

	candles := make(models.Series, 0, len(rows))
	malformed := 0
	for _, row := range rows {
		candle, err := decodeExchangeRow(row, symbol)
		if err != nil {
			c.logger.Warn("skipping malformed candle", "symbol", symbol, "error", err)
			malformed++
			continue
		}
		candles = append(candles, *candle)
	}

	if len(rows) > 0 && len(candles) == 0 {
		return nil, errs.SourceUnavailable(fmt.Errorf("all %d records in page were malformed", malformed))
	}

	// Newest first on the wire; restore chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}

func decodeExchangeRow(row []json.Number, symbol string) (*models.Candle, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(row))
	}

	ts, err := strconv.ParseInt(row[0].String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid candle time %q: %w", row[0], err)
	}

	return &models.Candle{
		Timestamp: time.Unix(ts, 0).UTC(),
		Low:       row[1].String(),
		High:      row[2].String(),
		Open:      row[3].String(),
		Close:     row[4].String(),
		Volume:    row[5].String(),
		Symbol:    symbol,
	}, nil
}

// ValidateSymbol probes the host for the trading pair's existence. A false
// return with nil error means the host answered but does not know the pair.
func (c *ExchangeClient) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	requestURL := fmt.Sprintf("%s/products/%s", c.baseURL, symbol)

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errs.SourceUnavailable(err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
