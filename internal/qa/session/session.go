// Package session implements the Session Manager (C13, spec §4.11): the
// per-session lifecycle owner composing the Conversation Cache (C2), the
// Analytics Buffer (C3), the Cost Meter (C4), and the Rolling Summariser
// (C12), and driving the end-of-session batch flush. Grounded on
// internal/agent/memory/manager.go's per-session map-of-mutexes
// serialization pattern, generalized from a single memory store to the
// four-component composition spec §4.11 names.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"manifold/internal/qa/analytics"
	"manifold/internal/qa/cache"
	"manifold/internal/qa/cost"
	"manifold/internal/qa/summary"
	"manifold/internal/qa/types"
)

// DurableStore is the end-of-session write target: the relational store
// for session/user bookkeeping and the analytics sink, addressed through
// one seam so the Session Manager does not depend on pgx or
// clickhouse-go directly (see internal/qa/durable).
type DurableStore interface {
	WriteFinalSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error
	WriteAnalyticsBatch(ctx context.Context, records []types.AnalyticsRecord) error
	IncrementUserActivity(ctx context.Context, userID string, sessionDelta, queryDelta int, costDeltaUSD float64) error
	PrependSessionDescriptor(ctx context.Context, userID string, descriptor types.SessionDescriptor, capSize int) error
}

// UserInfo is the opaque user descriptor passed to create_session.
type UserInfo struct {
	UserID    string
	UserClass string
}

// Config holds the tunables spec §4.11/§4.12 name as configurable.
type Config struct {
	IdleTimeout        time.Duration
	HardCap            time.Duration
	SummaryInterval    int
	RecentMessageCount int // default window for get_context_for_llm
	DescriptorCap      int // recent-sessions list cap (default 5)
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:        30 * time.Minute,
		HardCap:            24 * time.Hour,
		SummaryInterval:    5,
		RecentMessageCount: 5,
		DescriptorCap:      5,
	}
}

type sessionState struct {
	mu           sync.Mutex
	meta         types.Session
	created      time.Time
	pendingQuery string
}

// Manager owns every live session's metadata and serializes mutation per
// session id, per spec §5 ("single in-flight query per session id").
type Manager struct {
	cfg        Config
	cache      cache.Cache
	analytics  *analytics.Buffer
	costMeter  *cost.Meter
	summariser *summary.Summariser
	durable    DurableStore

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New constructs a Session Manager from its four composed components
// plus the durable-store seam.
func New(cfg Config, c cache.Cache, ab *analytics.Buffer, cm *cost.Meter, sm *summary.Summariser, durable DurableStore) *Manager {
	return &Manager{
		cfg:        cfg,
		cache:      c,
		analytics:  ab,
		costMeter:  cm,
		summariser: sm,
		durable:    durable,
		sessions:   make(map[string]*sessionState),
	}
}

// CreateSession generates a fresh opaque session id, records the user
// descriptor, and zeroes counters.
func (m *Manager) CreateSession(info UserInfo) string {
	id := uuid.NewString()
	now := time.Now()
	st := &sessionState{
		meta: types.Session{
			ID:         id,
			UserID:     info.UserID,
			UserClass:  info.UserClass,
			CreatedAt:  now,
			LastActive: now,
		},
		created: now,
	}
	m.mu.Lock()
	m.sessions[id] = st
	m.mu.Unlock()
	return id
}

// GetSession returns session metadata, or (Session{}, false) if the
// session is unknown or has expired. Reading updates last-activity, per
// spec §4.11.
func (m *Manager) GetSession(sessionID string) (types.Session, bool) {
	st := m.lookup(sessionID)
	if st == nil {
		return types.Session{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if m.expiredLocked(st) {
		return types.Session{}, false
	}
	st.meta.LastActive = time.Now()
	return st.meta, true
}

func (m *Manager) lookup(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Manager) expiredLocked(st *sessionState) bool {
	now := time.Now()
	if now.Sub(st.meta.LastActive) > m.cfg.IdleTimeout {
		return true
	}
	if now.Sub(st.meta.CreatedAt) > m.cfg.HardCap {
		return true
	}
	return false
}

// AddMessage records one role of a query/response exchange. A "user"
// call stashes the query text until the matching assistant reply arrives
// (a Turn, per the shared data model, bundles a query and its response
// together); a "assistant" call completes the Turn, appends it to the
// cache exactly once, pushes an analytics record using the stashed query
// text, and advances the summary counter — triggering the summariser
// once it reaches the configured interval.
func (m *Manager) AddMessage(ctx context.Context, sessionID, role, content string, meta types.Turn) error {
	st := m.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if m.expiredLocked(st) {
		return fmt.Errorf("session %s expired", sessionID)
	}

	st.meta.LastActive = time.Now()

	if role == "user" {
		st.pendingQuery = content
		return nil
	}

	turn := meta
	turn.Query = st.pendingQuery
	turn.Response = content
	turn.CreatedAt = time.Now()
	st.pendingQuery = ""

	if err := m.cache.AppendTurn(ctx, sessionID, turn); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session_append_turn_error")
	}
	st.meta.Turns = append(st.meta.Turns, turn)

	m.analytics.Append(sessionID, types.AnalyticsRecord{
		SessionID:      sessionID,
		UserID:         st.meta.UserID,
		Query:          turn.Query,
		Classification: turn.Classification,
		Confidence:     turn.Confidence,
		SourcesUsed:    turn.Sources,
		SearchAttempts: turn.SearchAttempts,
		Cost:           turn.Cost,
		Escalated:      turn.Escalated,
		IsFollowup:     turn.IsFollowup,
		EnhancedQuery:  turn.EnhancedQuery,
		QueryMetadata:  turn.QueryMetadata,
		CreatedAt:      turn.CreatedAt,
	})

	st.meta.MessageSeen++
	if st.meta.MessageSeen >= m.cfg.SummaryInterval {
		m.refreshSummaryLocked(ctx, sessionID, st)
	}
	return nil
}

// refreshSummaryLocked regenerates the rolling summary from the newest
// MessageSeen turns and resets the counter regardless of outcome, per
// spec §4.10 ("counter still resets to avoid tight retry loops"). Caller
// must hold st.mu.
func (m *Manager) refreshSummaryLocked(ctx context.Context, sessionID string, st *sessionState) {
	n := st.meta.MessageSeen
	if n > len(st.meta.Turns) {
		n = len(st.meta.Turns)
	}
	newest := st.meta.Turns[len(st.meta.Turns)-n:]
	updated := m.summariser.Summarize(ctx, st.meta.Summary, newest)
	st.meta.Summary = updated
	st.meta.MessageSeen = 0
	if err := m.cache.SetSummary(ctx, sessionID, updated); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session_set_summary_error")
	}
}

// LLMContext is the packaged conversation context get_context_for_llm
// returns.
type LLMContext struct {
	RecentTurns []types.Turn
	Summary     types.RollingSummary
	Formatted   string
}

// GetContextForLLM returns the default window of recent turns, the
// rolling summary, and a pre-formatted text block joining both, per spec
// §4.11.
func (m *Manager) GetContextForLLM(ctx context.Context, sessionID string) (LLMContext, error) {
	recent, err := m.cache.RecentTurns(ctx, sessionID, m.cfg.RecentMessageCount)
	if err != nil {
		return LLMContext{}, err
	}
	summ, _, err := m.cache.GetSummary(ctx, sessionID)
	if err != nil {
		return LLMContext{}, err
	}
	return LLMContext{
		RecentTurns: recent,
		Summary:     summ,
		Formatted:   formatContext(summ, recent),
	}, nil
}

func formatContext(summ types.RollingSummary, recent []types.Turn) string {
	var b strings.Builder
	if summ.Text != "" {
		b.WriteString("Summary so far: ")
		b.WriteString(summ.Text)
		b.WriteString("\n")
	}
	// recent is newest-first; present oldest-first for readability.
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		if t.Query != "" {
			b.WriteString("User: ")
			b.WriteString(t.Query)
			b.WriteString("\n")
		}
		if t.Response != "" {
			b.WriteString("Assistant: ")
			b.WriteString(t.Response)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// EndSession performs the single end-of-session batch write: final
// summary, analytics batch, user-activity increment, and the capped
// recent-sessions descriptor prepend. Per spec §5 ("atomic at the
// component boundary: either all four writes are attempted, or none"),
// every write is attempted even if an earlier one fails; their errors are
// joined and returned. On return (success or partial failure) the
// in-memory session state is cleared, matching "clears cache, buffer,
// summary counter, and stored user descriptor" — a session end is a
// terminal event regardless of durable-write outcome.
func (m *Manager) EndSession(ctx context.Context, sessionID, agentID, reason string) error {
	st := m.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	st.mu.Lock()
	meta := st.meta
	records := m.analytics.Flush(sessionID)
	breakdown := m.costMeter.Snapshot(sessionID)
	st.mu.Unlock()

	var finalSummary types.RollingSummary
	if len(meta.Turns) > 0 {
		finalSummary = m.summariser.Summarize(ctx, meta.Summary, meta.Turns)
	} else {
		finalSummary = meta.Summary
	}

	descriptor := types.SessionDescriptor{
		SessionID:    sessionID,
		EndReason:    reason,
		MessageCount: len(meta.Turns),
		EndedAt:      time.Now(),
	}

	var errs []error
	if err := m.durable.WriteFinalSummary(ctx, sessionID, finalSummary); err != nil {
		errs = append(errs, fmt.Errorf("write final summary: %w", err))
	}
	if err := m.durable.WriteAnalyticsBatch(ctx, records); err != nil {
		errs = append(errs, fmt.Errorf("write analytics batch: %w", err))
	}
	if err := m.durable.IncrementUserActivity(ctx, meta.UserID, 1, len(records), breakdown.TotalCostUSD); err != nil {
		errs = append(errs, fmt.Errorf("increment user activity: %w", err))
	}
	if err := m.durable.PrependSessionDescriptor(ctx, meta.UserID, descriptor, m.cfg.DescriptorCap); err != nil {
		errs = append(errs, fmt.Errorf("prepend session descriptor: %w", err))
	}

	if err := m.cache.Delete(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("session_end_cache_delete_error")
	}
	m.costMeter.Clear(sessionID)
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if len(errs) > 0 {
		log.Error().Str("session_id", sessionID).Str("agent_id", agentID).Errs("errors", errs).Msg("session_end_batch_write_partial_failure")
		return errors.Join(errs...)
	}
	return nil
}
