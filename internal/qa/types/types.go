// Package types holds the data model shared across the Q&A agent packages:
// sessions, turns, rolling summaries, analytics records, and the chunk
// shapes that flow out of retrieval and into generation.
package types

import "time"

// Turn is one user/assistant exchange within a session.
type Turn struct {
	Query          string          `json:"query"`
	Response       string          `json:"response"`
	Confidence     float64         `json:"confidence"`
	Sources        []string        `json:"sources"`
	Escalated      bool            `json:"escalated"`
	Classification string          `json:"classification"`
	Cost           CostBreakdown   `json:"cost"`
	SearchAttempts []SearchAttempt `json:"searchAttempts,omitempty"`
	IsFollowup     bool            `json:"isFollowup"`
	EnhancedQuery  string          `json:"enhancedQuery,omitempty"`
	QueryMetadata  QueryMetadata   `json:"queryMetadata"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// QueryMetadata is the category/intent/tag extraction Query Intelligence
// produces for one query (spec §4.3), carried through to the Turn and
// AnalyticsRecord it belongs to.
type QueryMetadata struct {
	Category string   `json:"category,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// RollingSummary is the compacted memory of a session's older turns.
type RollingSummary struct {
	Text        string    `json:"text"`
	TurnsCount  int       `json:"turnsCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Session is the full in-flight conversation state kept in the cache.
type Session struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	UserClass   string         `json:"userClass"` // "customer" | "support" | "test"
	Turns       []Turn         `json:"turns"`
	Summary     RollingSummary `json:"summary"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastActive  time.Time      `json:"lastActive"`
	MessageSeen int            `json:"messageSeen"` // turns seen since last summarization
}

// KBChunk is a single retrieved passage together with the metadata needed
// to reconstruct its parent document and cite its source.
type KBChunk struct {
	ID         string            `json:"id"`
	ParentID   string            `json:"parentId"`
	Text       string            `json:"text"`
	Source     string            `json:"source"`
	Score      float64           `json:"score"`
	RawScore   float64           `json:"rawScore"`
	ChunkIndex int               `json:"chunkIndex"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchAttempt records the outcome of one stage of the fallback search
// ladder, used both for debug_metrics and for analytics.
type SearchAttempt struct {
	Stage       string  `json:"stage"`
	ResultCount int     `json:"resultCount"`
	TopScore    float64 `json:"topScore"`
	DurationMs  int64   `json:"durationMs"`
}

// CostBreakdown is the per-call cost accounting spec.md §4.8 describes.
type CostBreakdown struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	EmbeddingTokens  int     `json:"embeddingTokens"`
	PromptCostUSD    float64 `json:"promptCostUsd"`
	CompletionCostUSD float64 `json:"completionCostUsd"`
	EmbeddingCostUSD float64 `json:"embeddingCostUsd"`
	TotalCostUSD     float64 `json:"totalCostUsd"`
}

// EscalationResult is the outcome of the escalation decision tree in
// spec.md §4.9.
type EscalationResult struct {
	ShouldEscalate bool   `json:"shouldEscalate"`
	Reason         string `json:"reason"`
	Message        string `json:"message,omitempty"`
}

// AnalyticsRecord is one query's worth of buffered telemetry, flushed to the
// durable store at session end.
type AnalyticsRecord struct {
	SessionID      string          `json:"sessionId"`
	UserID         string          `json:"userId"`
	Query          string          `json:"query"`
	Classification string          `json:"classification"`
	Confidence     float64         `json:"confidence"`
	SourcesUsed    []string        `json:"sourcesUsed"`
	SearchAttempts []SearchAttempt `json:"searchAttempts"`
	Cost           CostBreakdown   `json:"cost"`
	Escalated      bool            `json:"escalated"`
	IsFollowup     bool            `json:"isFollowup"`
	EnhancedQuery  string          `json:"enhancedQuery,omitempty"`
	QueryMetadata  QueryMetadata   `json:"queryMetadata"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// StageTimings is the per-stage latency breakdown surfaced as
// debug_metrics on the "test" endpoint variant.
type StageTimings struct {
	ClassifyMs    int64 `json:"classifyMs"`
	IntelligenceMs int64 `json:"intelligenceMs"`
	SearchMs      int64 `json:"searchMs"`
	RerankMs      int64 `json:"rerankMs"`
	GenerateMs    int64 `json:"generateMs"`
	EscalateMs    int64 `json:"escalateMs"`
	TotalMs       int64 `json:"totalMs"`
}

// SessionDescriptor is the capped recent-sessions summary spec.md §4.11
// prepends to a user's session history.
type SessionDescriptor struct {
	SessionID    string    `json:"sessionId"`
	EndReason    string    `json:"endReason"` // "idle" | "hard_cap" | "explicit"
	MessageCount int       `json:"messageCount"`
	EndedAt      time.Time `json:"endedAt"`
}

// Response is the full answer payload the orchestrator produces for one
// query. Endpoint handlers project a subset of its fields depending on the
// caller's user class.
type Response struct {
	Answer         string        `json:"answer"`
	Confidence     float64       `json:"confidence"`
	Sources        []string      `json:"sources"`
	Classification string        `json:"classification"`
	Escalated      bool          `json:"escalated"`
	EscalationMsg  string        `json:"escalationMessage,omitempty"`
	Cost           CostBreakdown `json:"cost,omitempty"`
	EnhancedQuery  string        `json:"enhancedQuery,omitempty"`
	SearchAttempts []SearchAttempt `json:"searchAttempts,omitempty"`
	QueryMetadata  QueryMetadata `json:"queryMetadata,omitempty"`
	DebugMetrics   *StageTimings `json:"debugMetrics,omitempty"`
}
