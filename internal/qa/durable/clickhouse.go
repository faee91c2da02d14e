package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"manifold/internal/config"
	"manifold/internal/qa/types"
)

// ClickHouseAnalyticsStore writes the batched per-session analytics
// records spec §4.11 names ("analytics batch (all buffered queries)") to
// a ClickHouse time-series table. Grounded on
// internal/agentd/metrics_clickhouse.go's DSN-parsing and
// connection-open convention, redirected from metrics reads to an
// analytics-row write path.
type ClickHouseAnalyticsStore struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseAnalyticsStore opens a ClickHouse connection from config.
// A disabled config is a valid construction (Enabled=false); callers
// should check Enabled before constructing, or treat a nil return as a
// no-op sink (see NewAnalyticsStore).
func NewClickHouseAnalyticsStore(cfg config.ClickHouseAnalyticsConfig) (*ClickHouseAnalyticsStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("clickhouse analytics store requires a dsn")
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	table := cfg.AnalyticsTable
	if table == "" {
		table = "qa_analytics_records"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ClickHouseAnalyticsStore{conn: conn, table: table, timeout: timeout}, nil
}

// Init creates the analytics table if it does not already exist.
func (s *ClickHouseAnalyticsStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.conn.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    session_id String,
    user_id String,
    query String,
    classification String,
    confidence Float64,
    sources_used Array(String),
    escalated UInt8,
    is_followup UInt8,
    prompt_tokens UInt32,
    completion_tokens UInt32,
    embedding_tokens UInt32,
    total_cost_usd Float64,
    search_attempts String,
    enhanced_query String,
    category String,
    intent String,
    tags Array(String),
    created_at DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (session_id, created_at)
`, s.table))
}

// WriteAnalyticsBatch inserts every buffered record for a session in one
// batch, per spec §4.11.
func (s *ClickHouseAnalyticsStore) WriteAnalyticsBatch(ctx context.Context, records []types.AnalyticsRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("prepare analytics batch: %w", err)
	}
	for _, r := range records {
		searchAttempts, err := json.Marshal(r.SearchAttempts)
		if err != nil {
			return fmt.Errorf("marshal search attempts: %w", err)
		}
		if err := batch.Append(
			r.SessionID,
			r.UserID,
			r.Query,
			r.Classification,
			r.Confidence,
			r.SourcesUsed,
			boolToUint8(r.Escalated),
			boolToUint8(r.IsFollowup),
			uint32(r.Cost.PromptTokens),
			uint32(r.Cost.CompletionTokens),
			uint32(r.Cost.EmbeddingTokens),
			r.Cost.TotalCostUSD,
			string(searchAttempts),
			r.EnhancedQuery,
			r.QueryMetadata.Category,
			r.QueryMetadata.Intent,
			r.QueryMetadata.Tags,
			r.CreatedAt,
		); err != nil {
			return fmt.Errorf("append analytics row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send analytics batch: %w", err)
	}
	return nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
