package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ohlcv-tools/ingest/internal/errs"
)

// Timeframe is the granularity tag of a candle series (e.g. "1h", "1d", "1w").
type Timeframe string

// Supported timeframes. The native set is fetchable directly from a source
// API; derived timeframes are aggregated from a finer native source.
const (
	Timeframe5m  Timeframe = "5m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// Capability identifies which fetcher variant serves a native timeframe.
type Capability string

const (
	// CapabilityExchange is the public Exchange API (unauthenticated REST).
	CapabilityExchange Capability = "exchange"
	// CapabilityAdvancedTrade is the Advanced Trade API (JWT-signed requests).
	CapabilityAdvancedTrade Capability = "advanced_trade"
	// CapabilityNone marks derived timeframes, which are never fetched.
	CapabilityNone Capability = ""
)

// timeframeSpec describes one timeframe: its duration, whether it can be
// fetched natively (and through which fetcher), and for derived timeframes
// the finer source timeframe it is aggregated from.
type timeframeSpec struct {
	duration   time.Duration
	capability Capability
	source     Timeframe
}

var timeframeSpecs = map[Timeframe]timeframeSpec{
	Timeframe5m:  {duration: 5 * time.Minute, capability: CapabilityExchange},
	Timeframe30m: {duration: 30 * time.Minute, capability: CapabilityAdvancedTrade},
	Timeframe1h:  {duration: time.Hour, capability: CapabilityExchange},
	Timeframe4h:  {duration: 4 * time.Hour, source: Timeframe1h},
	Timeframe6h:  {duration: 6 * time.Hour, capability: CapabilityExchange},
	Timeframe1d:  {duration: 24 * time.Hour, capability: CapabilityExchange},
	Timeframe1w:  {duration: 7 * 24 * time.Hour, source: Timeframe1d},
}

// ParseTimeframe validates a timeframe tag. Returns ErrUnsupportedTimeframe
// for unknown tags.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", fmt.Errorf("%w: %q (supported: %s)", errs.ErrUnsupportedTimeframe, s, strings.Join(timeframeStrings(), ", "))
	}
	return tf, nil
}

// Timeframes returns all supported timeframes ordered by duration.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe5m, Timeframe30m, Timeframe1h, Timeframe4h, Timeframe6h, Timeframe1d, Timeframe1w}
}

func timeframeStrings() []string {
	all := Timeframes()
	out := make([]string, len(all))
	for i, tf := range all {
		out[i] = string(tf)
	}
	return out
}

// Duration returns the length of one candle at this timeframe. A calendar
// week is treated as exactly 7 days; week bucketing itself is calendar-aware
// in the aggregator.
func (tf Timeframe) Duration() time.Duration {
	return timeframeSpecs[tf].duration
}

// Native reports whether the timeframe can be fetched directly from a source
// API. Derived timeframes must be aggregated from their Source.
func (tf Timeframe) Native() bool {
	return timeframeSpecs[tf].capability != CapabilityNone
}

// Capability returns the fetcher variant serving this timeframe, or
// CapabilityNone for derived timeframes.
func (tf Timeframe) Capability() Capability {
	return timeframeSpecs[tf].capability
}

// Source returns the finer native timeframe a derived timeframe is aggregated
// from, or the empty timeframe for native ones.
func (tf Timeframe) Source() Timeframe {
	return timeframeSpecs[tf].source
}

// Valid reports whether the timeframe is one of the supported tags.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSpecs[tf]
	return ok
}

func (tf Timeframe) String() string {
	return string(tf)
}
