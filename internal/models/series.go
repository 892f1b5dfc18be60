package models

import (
	"sort"
	"time"
)

// Series is the ordered candle history for one (symbol, timeframe) pair:
// strictly increasing by timestamp with no duplicates. Construction helpers
// here enforce the ordering invariant; callers that merge series use
// Normalize before handing a series downstream.
type Series []Candle

// SortAscending orders the series by timestamp, oldest first. The sort is
// stable so that, among duplicate timestamps, the earlier-appended record is
// the one Normalize keeps.
func (s Series) SortAscending() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// Normalize returns a sorted copy of the series with duplicate timestamps
// removed. On a duplicate the first occurrence (in post-sort order) wins.
func (s Series) Normalize() Series {
	if len(s) == 0 {
		return Series{}
	}

	out := make(Series, len(s))
	copy(out, s)
	out.SortAscending()

	deduped := out[:1]
	for _, c := range out[1:] {
		if c.Timestamp.After(deduped[len(deduped)-1].Timestamp) {
			deduped = append(deduped, c)
		}
	}
	return deduped
}

// IsSorted reports whether the series is strictly increasing by timestamp
// with no duplicate timestamps.
func (s Series) IsSorted() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Validate checks every record in the series and returns the first
// validation failure, or nil when all records are well formed.
func (s Series) Validate() error {
	for i := range s {
		if err := s[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Coverage returns the half-open time interval [start, end) the series spans,
// where end is the last candle's timestamp plus one candle duration at the
// given timeframe. The second return is false for an empty series.
func (s Series) Coverage(tf Timeframe) (start, end time.Time, ok bool) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s[0].Timestamp, s[len(s)-1].Timestamp.Add(tf.Duration()), true
}
