// Package durable implements the two durable-store halves the Session
// Manager's batch flush writes to (spec §4.11, §3 "Ownership"): relational
// session/user bookkeeping in Postgres, and the analytics time series in
// ClickHouse. Grounded on internal/persistence/databases/chat_store_postgres.go
// for the pgxpool usage and table-bootstrap convention, and
// internal/agentd/metrics_clickhouse.go for the clickhouse-go/v2 connection
// convention.
package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"manifold/internal/qa/types"
)

// PostgresStore persists session final-summary writes, per-user activity
// counters, and the capped recent-sessions descriptor list.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the tables this store needs if they do not already exist,
// mirroring pgChatStore.Init's idempotent bootstrap convention.
func (s *PostgresStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres durable store requires a pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS qa_session_summaries (
    session_id UUID PRIMARY KEY,
    summary_text TEXT NOT NULL DEFAULT '',
    turns_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS qa_user_activity (
    user_id TEXT PRIMARY KEY,
    session_count BIGINT NOT NULL DEFAULT 0,
    query_count BIGINT NOT NULL DEFAULT 0,
    total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS qa_user_recent_sessions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_id UUID NOT NULL,
    end_reason TEXT NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0,
    ended_at TIMESTAMPTZ NOT NULL,
    rank_order BIGSERIAL
);

CREATE INDEX IF NOT EXISTS qa_user_recent_sessions_user_idx ON qa_user_recent_sessions(user_id, rank_order DESC);
`)
	return err
}

// WriteFinalSummary upserts the session's closing rolling summary.
func (s *PostgresStore) WriteFinalSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO qa_session_summaries (session_id, summary_text, turns_count, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (session_id) DO UPDATE SET
    summary_text = EXCLUDED.summary_text,
    turns_count = EXCLUDED.turns_count,
    updated_at = NOW()
`, sessionID, summary.Text, summary.TurnsCount)
	if err != nil {
		return fmt.Errorf("write final summary: %w", err)
	}
	return nil
}

// IncrementUserActivity adds to the user's running session/query/cost
// counters.
func (s *PostgresStore) IncrementUserActivity(ctx context.Context, userID string, sessionDelta, queryDelta int, costDeltaUSD float64) error {
	if userID == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO qa_user_activity (user_id, session_count, query_count, total_cost_usd, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    session_count = qa_user_activity.session_count + EXCLUDED.session_count,
    query_count = qa_user_activity.query_count + EXCLUDED.query_count,
    total_cost_usd = qa_user_activity.total_cost_usd + EXCLUDED.total_cost_usd,
    updated_at = NOW()
`, userID, sessionDelta, queryDelta, costDeltaUSD)
	if err != nil {
		return fmt.Errorf("increment user activity: %w", err)
	}
	return nil
}

// PrependSessionDescriptor inserts a new recent-sessions row for the
// user and trims the list to capSize, matching spec §4.11's "prepend
// short session descriptor to user's recent-sessions list capped to 5".
func (s *PostgresStore) PrependSessionDescriptor(ctx context.Context, userID string, descriptor types.SessionDescriptor, capSize int) error {
	if userID == "" {
		return nil
	}
	if capSize <= 0 {
		capSize = 5
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recent-sessions tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO qa_user_recent_sessions (id, user_id, session_id, end_reason, message_count, ended_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, uuid.NewString(), userID, descriptor.SessionID, descriptor.EndReason, descriptor.MessageCount, descriptor.EndedAt)
	if err != nil {
		return fmt.Errorf("insert session descriptor: %w", err)
	}

	_, err = tx.Exec(ctx, `
DELETE FROM qa_user_recent_sessions
WHERE user_id = $1
  AND id NOT IN (
    SELECT id FROM qa_user_recent_sessions
    WHERE user_id = $1
    ORDER BY rank_order DESC
    LIMIT $2
  )
`, userID, capSize)
	if err != nil {
		return fmt.Errorf("trim session descriptors: %w", err)
	}

	return tx.Commit(ctx)
}

// RecentSessionDescriptors returns up to capSize most recent session
// descriptors for a user, newest first — the read side of
// PrependSessionDescriptor, supplementing spec §4.11's write-only
// description since a descriptor list with no reader would be dead
// weight (SPEC_FULL.md §10).
func (s *PostgresStore) RecentSessionDescriptors(ctx context.Context, userID string, capSize int) ([]types.SessionDescriptor, error) {
	if capSize <= 0 {
		capSize = 5
	}
	rows, err := s.pool.Query(ctx, `
SELECT session_id, end_reason, message_count, ended_at
FROM qa_user_recent_sessions
WHERE user_id = $1
ORDER BY rank_order DESC
LIMIT $2
`, userID, capSize)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionDescriptor
	for rows.Next() {
		var d types.SessionDescriptor
		var endedAt time.Time
		if err := rows.Scan(&d.SessionID, &d.EndReason, &d.MessageCount, &endedAt); err != nil {
			return nil, fmt.Errorf("scan recent session: %w", err)
		}
		d.EndedAt = endedAt
		out = append(out, d)
	}
	return out, rows.Err()
}
