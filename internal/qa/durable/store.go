package durable

import (
	"context"

	"manifold/internal/qa/types"
)

// analyticsSink is the narrow interface ClickHouseAnalyticsStore
// satisfies, kept separate so Store can be assembled in tests with a
// fake in place of a real ClickHouse connection.
type analyticsSink interface {
	WriteAnalyticsBatch(ctx context.Context, records []types.AnalyticsRecord) error
}

// relationalSink is the narrow interface PostgresStore satisfies.
type relationalSink interface {
	WriteFinalSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error
	IncrementUserActivity(ctx context.Context, userID string, sessionDelta, queryDelta int, costDeltaUSD float64) error
	PrependSessionDescriptor(ctx context.Context, userID string, descriptor types.SessionDescriptor, capSize int) error
}

// Store composes the relational and analytics halves into the single
// session.DurableStore seam the Session Manager depends on, per spec
// §3's split between session/user relational data and the analytics
// time series.
type Store struct {
	relational relationalSink
	analytics  analyticsSink
}

// NewStore assembles a Store from its two backing sinks.
func NewStore(relational relationalSink, analytics analyticsSink) *Store {
	return &Store{relational: relational, analytics: analytics}
}

func (s *Store) WriteFinalSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error {
	return s.relational.WriteFinalSummary(ctx, sessionID, summary)
}

func (s *Store) WriteAnalyticsBatch(ctx context.Context, records []types.AnalyticsRecord) error {
	return s.analytics.WriteAnalyticsBatch(ctx, records)
}

func (s *Store) IncrementUserActivity(ctx context.Context, userID string, sessionDelta, queryDelta int, costDeltaUSD float64) error {
	return s.relational.IncrementUserActivity(ctx, userID, sessionDelta, queryDelta, costDeltaUSD)
}

func (s *Store) PrependSessionDescriptor(ctx context.Context, userID string, descriptor types.SessionDescriptor, capSize int) error {
	return s.relational.PrependSessionDescriptor(ctx, userID, descriptor, capSize)
}
