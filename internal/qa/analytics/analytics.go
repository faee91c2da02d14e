// Package analytics implements the Analytics Buffer (C3, spec §3/§4.1
// step 9): a per-session in-memory accumulator of per-query telemetry,
// flushed as a batch at session end. Grounded on
// original_source/src/analytics/collectors/metrics_collector.py for the
// record shape, re-expressed as the explicit types.AnalyticsRecord struct
// rather than a dynamic dict.
package analytics

import (
	"sort"
	"sync"

	"manifold/internal/qa/types"
)

// Buffer accumulates analytics records per session until flushed.
type Buffer struct {
	mu      sync.Mutex
	records map[string][]types.AnalyticsRecord
}

// New constructs an empty Buffer.
func New() *Buffer {
	return &Buffer{records: make(map[string][]types.AnalyticsRecord)}
}

// Append adds one record to a session's buffer.
func (b *Buffer) Append(sessionID string, rec types.AnalyticsRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[sessionID] = append(b.records[sessionID], rec)
}

// Count returns the number of buffered records for a session — used to
// verify the "analytics buffer size equals assistant turns emitted"
// invariant (spec §3, §8 property 1).
func (b *Buffer) Count(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records[sessionID])
}

// Flush returns and clears all records buffered for a session, for the
// end-of-session batch write.
func (b *Buffer) Flush(sessionID string) []types.AnalyticsRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	recs := b.records[sessionID]
	delete(b.records, sessionID)
	return recs
}

// Aggregate is a small read-only rollup over a session's buffered
// records — most-cited sources and average confidence — supplementing
// the spec per SPEC_FULL.md §10 (motivated by
// original_source/src/admin/query_metrics.py, which tracked the same
// rollup for an admin surface that is otherwise out of scope here).
type Aggregate struct {
	QueryCount      int
	AverageConfidence float64
	TopSources      []string
}

// AggregateSession computes the rollup for a session without clearing
// its buffer.
func (b *Buffer) AggregateSession(sessionID string) Aggregate {
	b.mu.Lock()
	recs := append([]types.AnalyticsRecord(nil), b.records[sessionID]...)
	b.mu.Unlock()

	if len(recs) == 0 {
		return Aggregate{}
	}
	sourceCounts := make(map[string]int)
	var confSum float64
	for _, r := range recs {
		confSum += r.Confidence
		for _, s := range r.SourcesUsed {
			sourceCounts[s]++
		}
	}
	type countedSource struct {
		name  string
		count int
	}
	counted := make([]countedSource, 0, len(sourceCounts))
	for s, c := range sourceCounts {
		counted = append(counted, countedSource{s, c})
	}
	sort.Slice(counted, func(i, j int) bool {
		if counted[i].count == counted[j].count {
			return counted[i].name < counted[j].name
		}
		return counted[i].count > counted[j].count
	})
	top := make([]string, 0, 5)
	for i, c := range counted {
		if i >= 5 {
			break
		}
		top = append(top, c.name)
	}
	return Aggregate{
		QueryCount:        len(recs),
		AverageConfidence: confSum / float64(len(recs)),
		TopSources:        top,
	}
}
