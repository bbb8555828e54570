package pagination

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"
)

// Accumulator merges freshly fetched items with a cached collection.
//
// Items are consumed newest first. The first item whose identity is already
// cached is the reconnection point: the unseen items before it are spliced in
// front of the cache and the rest of the fresh data is ignored. Without a
// reconnection the fresh items replace the cache wholesale.
type Accumulator struct {
	cached      []Record
	known       map[int64]struct{}
	prefix      []Record
	reconnected bool
}

// NewAccumulator creates an accumulator over cached, which may be empty.
func NewAccumulator(cached []Record) *Accumulator {
	known := make(map[int64]struct{}, len(cached))
	for _, r := range cached {
		known[r.ID] = struct{}{}
	}
	return &Accumulator{
		cached: cached,
		known:  known,
	}
}

// Add consumes the next items and reports whether the reconnection point
// has been reached. Items added after that are ignored.
func (a *Accumulator) Add(items []Record) bool {
	if a.reconnected {
		return true
	}
	for _, item := range items {
		if _, ok := a.known[item.ID]; ok {
			a.reconnected = true
			accumulatorReconnectsTotal.Inc()
			return true
		}
		a.prefix = append(a.prefix, item)
	}
	return false
}

// Reconnected reports whether fresh data met the cache.
func (a *Accumulator) Reconnected() bool {
	return a.reconnected
}

// Result returns the merged collection sorted by identity descending
// without duplicates.
func (a *Accumulator) Result() []Record {
	merged := make([]Record, 0, len(a.prefix)+len(a.cached))
	merged = append(merged, a.prefix...)
	if a.reconnected {
		merged = append(merged, a.cached...)
	}
	return SortAndDedupe(merged)
}

// Partial returns everything known so far, fresh items and cache alike.
// It is used when a fetch ends with an error before a reconnection.
func (a *Accumulator) Partial() []Record {
	merged := make([]Record, 0, len(a.prefix)+len(a.cached))
	merged = append(merged, a.prefix...)
	merged = append(merged, a.cached...)
	return SortAndDedupe(merged)
}

// SortAndDedupe orders records by identity descending and keeps the first
// occurrence of each identity.
func SortAndDedupe(records []Record) []Record {
	out := make([]Record, 0, len(records))
	seen := make(map[int64]struct{}, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out
}

// ResumeResult is the outcome of Resume.
type ResumeResult struct {
	Records     []Record
	Reconnected bool
	Batches     int
}

// Resume walks the collection from start and merges it with cached.
// The walk stops at the first batch that reconnects with the cache.
//
// On error Records holds the fresh items gathered so far merged with the
// cache; callers should not store them back.
func Resume(ctx context.Context, la *Lookahead, start PageRequest, cached []Record) (ResumeResult, error) {
	acc := NewAccumulator(cached)

	batches, err := la.Walk(ctx, start, acc.Add)
	if err != nil {
		return ResumeResult{
			Records: acc.Partial(),
			Batches: batches,
		}, err
	}

	result := ResumeResult{
		Records:     acc.Result(),
		Reconnected: acc.Reconnected(),
		Batches:     batches,
	}

	log.Debug().
		Str("link", start.BaseLink).
		Int("batches", batches).
		Int("cached", len(cached)).
		Int("items", len(result.Records)).
		Bool("reconnected", result.Reconnected).
		Msg("Collection merged")

	return result, nil
}
