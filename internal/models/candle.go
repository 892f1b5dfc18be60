// Package models provides the core data structures for OHLCV market data:
// candles, ordered candle series, trading-pair symbols, and the timeframe
// enumeration. Validation rules live here so every component upstream and
// downstream agrees on what a well-formed record is.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcv-tools/ingest/internal/errs"
)

// Candle represents one OHLCV record for a trading pair at a fixed time bucket.
// Prices and volume are kept as decimal strings to preserve exchange precision;
// use the decimal getters for arithmetic. Timestamp is always UTC and uniquely
// identifies the candle within a (symbol, timeframe) series.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    string    `json:"volume"`
	Symbol    string    `json:"symbol"`
}

// ValidationError reports which candle field failed validation and why.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Unwrap ties every validation failure to the ErrInvalidCandle sentinel so
// callers can test with errors.Is without inspecting the field.
func (e *ValidationError) Unwrap() error {
	return errs.ErrInvalidCandle
}

// Validate checks that the candle is well formed: timestamp set, all prices
// positive decimals, volume a non-negative decimal, and the OHLC invariant
// high >= max(open, close, low), low <= min(open, close, high). Records that
// fail are rejected by callers, never silently corrected.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	closePrice, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if closePrice.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOCL := decimal.Max(open, closePrice, low)
	if high.LessThan(maxOCL) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close, low) (%s)", high, maxOCL),
		}
	}

	minOCH := decimal.Min(open, closePrice, high)
	if low.GreaterThan(minOCH) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close, high) (%s)", low, minOCH),
		}
	}

	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}

	return nil
}

// OpenDecimal returns the open price as a decimal.Decimal.
func (c *Candle) OpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Open)
}

// HighDecimal returns the high price as a decimal.Decimal.
func (c *Candle) HighDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.High)
}

// LowDecimal returns the low price as a decimal.Decimal.
func (c *Candle) LowDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Low)
}

// CloseDecimal returns the close price as a decimal.Decimal.
func (c *Candle) CloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// VolumeDecimal returns the volume as a decimal.Decimal.
func (c *Candle) VolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Volume)
}

// String implements fmt.Stringer.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Symbol, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle builds a validated candle. The timestamp is normalized to UTC and
// marks the start of the candle's time bucket.
func NewCandle(timestamp time.Time, open, high, low, closePrice, volume, symbol string) (*Candle, error) {
	candle := &Candle{
		Timestamp: timestamp.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Symbol:    symbol,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

// NormalizeSymbol validates a trading-pair identifier and returns its
// canonical form BASE-QUOTE in upper case (e.g. "btc-usd" -> "BTC-USD").
// Returns ErrInvalidSymbol when base or quote is empty or non-alphanumeric.
func NormalizeSymbol(symbol string) (string, error) {
	canonical := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(canonical) {
		return "", fmt.Errorf("%w: %q must be in BASE-QUOTE form (e.g. BTC-USD)", errs.ErrInvalidSymbol, symbol)
	}
	return canonical, nil
}

// DisplaySymbol renders a canonical BASE-QUOTE symbol in its display form
// BASE/QUOTE, the form used in persisted series files.
func DisplaySymbol(symbol string) string {
	return strings.Replace(symbol, "-", "/", 1)
}

// CanonicalSymbol converts a display-form BASE/QUOTE symbol back to the
// canonical BASE-QUOTE form.
func CanonicalSymbol(symbol string) string {
	return strings.Replace(symbol, "/", "-", 1)
}
