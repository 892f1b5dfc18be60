package store

import (
	"context"
	"sync"

	"github.com/ohlcv-tools/ingest/internal/models"
)

// MemoryStore is an in-memory Store used in tests and dry runs. It applies
// the same merge semantics as the CSV store: existing rows win on timestamp
// collision and invalid incoming records are rejected.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[memoryKey]models.Series
}

type memoryKey struct {
	symbol string
	tf     models.Timeframe
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[memoryKey]models.Series)}
}

// Merge implements Store.
func (m *MemoryStore) Merge(ctx context.Context, symbol string, tf models.Timeframe, series models.Series) (MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{symbol: symbol, tf: tf}
	existing := m.series[key]

	seen := make(map[int64]struct{}, len(existing))
	for i := range existing {
		seen[existing[i].Timestamp.Unix()] = struct{}{}
	}

	merged := append(models.Series{}, existing...)
	result := MergeResult{}
	for i := range series {
		c := series[i]
		if err := c.Validate(); err != nil {
			result.Rejected++
			continue
		}
		if _, dup := seen[c.Timestamp.Unix()]; dup {
			continue
		}
		seen[c.Timestamp.Unix()] = struct{}{}
		merged = append(merged, c)
		result.RowsWritten++
	}

	merged.SortAscending()
	m.series[key] = merged
	return result, nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, symbol string, tf models.Timeframe) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.series[memoryKey{symbol: symbol, tf: tf}]
	out := make(models.Series, len(stored))
	copy(out, stored)
	return out, nil
}
