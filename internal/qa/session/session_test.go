package session

import (
	"context"
	"testing"
	"time"

	"manifold/internal/llm"
	"manifold/internal/qa/analytics"
	"manifold/internal/qa/cache"
	"manifold/internal/qa/cost"
	"manifold/internal/qa/summary"
	"manifold/internal/qa/types"
)

type fakeProvider struct{ reply string }

func (f *fakeProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	return llm.Message{Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

type fakeDurable struct {
	summaryWrites   int
	analyticsBatch  []types.AnalyticsRecord
	userID          string
	sessionDelta    int
	queryDelta      int
	costDelta       float64
	descriptor      types.SessionDescriptor
	failAnalytics   bool
}

func (f *fakeDurable) WriteFinalSummary(_ context.Context, _ string, _ types.RollingSummary) error {
	f.summaryWrites++
	return nil
}

func (f *fakeDurable) WriteAnalyticsBatch(_ context.Context, records []types.AnalyticsRecord) error {
	f.analyticsBatch = records
	if f.failAnalytics {
		return errTest
	}
	return nil
}

func (f *fakeDurable) IncrementUserActivity(_ context.Context, userID string, sessionDelta, queryDelta int, costDelta float64) error {
	f.userID = userID
	f.sessionDelta = sessionDelta
	f.queryDelta = queryDelta
	f.costDelta = costDelta
	return nil
}

func (f *fakeDurable) PrependSessionDescriptor(_ context.Context, _ string, descriptor types.SessionDescriptor, _ int) error {
	f.descriptor = descriptor
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("durable write failed")

func newTestManager() (*Manager, *fakeDurable) {
	c := cache.NewInMemoryCache(time.Hour, 8)
	ab := analytics.New()
	cm := cost.New(cost.DefaultPriceTable())
	sm := summary.New(&fakeProvider{reply: `{"summary":"ongoing","current_topic":"leasing","conversation_state":"exploring","key_facts":[]}`}, "test-model")
	durable := &fakeDurable{}
	mgr := New(DefaultConfig(), c, ab, cm, sm, durable)
	return mgr, durable
}

func TestCreateAndGetSession(t *testing.T) {
	mgr, _ := newTestManager()
	id := mgr.CreateSession(UserInfo{UserID: "u1", UserClass: "customer"})
	if id == "" {
		t.Fatal("expected non-empty session id")
	}
	sess, ok := mgr.GetSession(id)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if sess.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", sess.UserID)
	}
}

func TestGetSessionUnknownReturnsFalse(t *testing.T) {
	mgr, _ := newTestManager()
	_, ok := mgr.GetSession("nonexistent")
	if ok {
		t.Fatal("expected unknown session to report not found")
	}
}

func TestAddMessagePairsQueryAndResponse(t *testing.T) {
	mgr, _ := newTestManager()
	ctx := context.Background()
	id := mgr.CreateSession(UserInfo{UserID: "u1"})

	if err := mgr.AddMessage(ctx, id, "user", "how do I pay rent", types.Turn{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.AddMessage(ctx, id, "assistant", "use the resident portal", types.Turn{Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	llmCtx, err := mgr.GetContextForLLM(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llmCtx.RecentTurns) != 1 {
		t.Fatalf("expected 1 recent turn, got %d", len(llmCtx.RecentTurns))
	}
	if llmCtx.RecentTurns[0].Query != "how do I pay rent" || llmCtx.RecentTurns[0].Response != "use the resident portal" {
		t.Errorf("expected paired turn, got %+v", llmCtx.RecentTurns[0])
	}

	if mgr.analytics.Count(id) != 1 {
		t.Errorf("expected 1 analytics record, got %d", mgr.analytics.Count(id))
	}
}

func TestAddMessagePopulatesFullAnalyticsRecord(t *testing.T) {
	mgr, durable := newTestManager()
	ctx := context.Background()
	id := mgr.CreateSession(UserInfo{UserID: "u1"})

	turnMeta := types.Turn{
		Confidence:     0.42,
		Sources:        []string{"Rent Payment Guide"},
		Escalated:      true,
		Classification: "howto",
		Cost:           types.CostBreakdown{Model: "test-model", TotalCostUSD: 0.002},
		SearchAttempts: []types.SearchAttempt{{Stage: "full_rag", ResultCount: 3, TopScore: 0.8}},
		IsFollowup:     true,
		EnhancedQuery:  "how do I pay rent online",
		QueryMetadata:  types.QueryMetadata{Category: "billing", Intent: "howto", Tags: []string{"rent"}},
	}

	if err := mgr.AddMessage(ctx, id, "user", "how do I pay rent", types.Turn{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.AddMessage(ctx, id, "assistant", "use the resident portal", turnMeta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.EndSession(ctx, id, "agent-1", "explicit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(durable.analyticsBatch) != 1 {
		t.Fatalf("expected 1 analytics record, got %d", len(durable.analyticsBatch))
	}
	rec := durable.analyticsBatch[0]
	if rec.Cost.TotalCostUSD != 0.002 {
		t.Errorf("Cost.TotalCostUSD = %v, want 0.002", rec.Cost.TotalCostUSD)
	}
	if len(rec.SearchAttempts) != 1 || rec.SearchAttempts[0].Stage != "full_rag" {
		t.Errorf("expected search attempts to carry through, got %+v", rec.SearchAttempts)
	}
	if !rec.IsFollowup {
		t.Errorf("expected IsFollowup to carry through")
	}
	if rec.EnhancedQuery != "how do I pay rent online" {
		t.Errorf("EnhancedQuery = %q, want the enhanced query text", rec.EnhancedQuery)
	}
	if rec.QueryMetadata.Category != "billing" || rec.QueryMetadata.Intent != "howto" {
		t.Errorf("expected query metadata to carry through, got %+v", rec.QueryMetadata)
	}
}

func TestAddMessageTriggersSummaryAtInterval(t *testing.T) {
	mgr, _ := newTestManager()
	mgr.cfg.SummaryInterval = 2
	ctx := context.Background()
	id := mgr.CreateSession(UserInfo{UserID: "u1"})

	for i := 0; i < 2; i++ {
		_ = mgr.AddMessage(ctx, id, "user", "q", types.Turn{})
		_ = mgr.AddMessage(ctx, id, "assistant", "a", types.Turn{})
	}

	sess, _ := mgr.GetSession(id)
	if sess.MessageSeen != 0 {
		t.Errorf("expected counter reset after hitting interval, got %d", sess.MessageSeen)
	}
	if sess.Summary.Text == "" {
		t.Errorf("expected summary to be populated")
	}
}

func TestEndSessionAttemptsAllFourWritesAndClearsState(t *testing.T) {
	mgr, durable := newTestManager()
	ctx := context.Background()
	id := mgr.CreateSession(UserInfo{UserID: "u1"})
	_ = mgr.AddMessage(ctx, id, "user", "q", types.Turn{})
	_ = mgr.AddMessage(ctx, id, "assistant", "a", types.Turn{})

	if err := mgr.EndSession(ctx, id, "agent-1", "explicit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if durable.summaryWrites != 1 {
		t.Errorf("expected 1 summary write, got %d", durable.summaryWrites)
	}
	if len(durable.analyticsBatch) != 1 {
		t.Errorf("expected 1 analytics record flushed, got %d", len(durable.analyticsBatch))
	}
	if durable.userID != "u1" || durable.sessionDelta != 1 || durable.queryDelta != 1 {
		t.Errorf("unexpected user activity increment: %+v", durable)
	}
	if durable.descriptor.SessionID != id || durable.descriptor.EndReason != "explicit" {
		t.Errorf("unexpected descriptor: %+v", durable.descriptor)
	}
	if _, ok := mgr.GetSession(id); ok {
		t.Errorf("expected session state cleared after end")
	}
}

func TestEndSessionAttemptsRemainingWritesDespitePartialFailure(t *testing.T) {
	mgr, durable := newTestManager()
	durable.failAnalytics = true
	ctx := context.Background()
	id := mgr.CreateSession(UserInfo{UserID: "u1"})
	_ = mgr.AddMessage(ctx, id, "user", "q", types.Turn{})
	_ = mgr.AddMessage(ctx, id, "assistant", "a", types.Turn{})

	err := mgr.EndSession(ctx, id, "agent-1", "idle")
	if err == nil {
		t.Fatal("expected error to be surfaced from failed analytics write")
	}
	if durable.summaryWrites != 1 {
		t.Errorf("expected summary write still attempted, got %d", durable.summaryWrites)
	}
	if durable.userID != "u1" {
		t.Errorf("expected user-activity write still attempted despite earlier failure")
	}
	if durable.descriptor.SessionID != id {
		t.Errorf("expected descriptor write still attempted despite earlier failure")
	}
}

func TestGetSessionExpiresAfterIdleTimeout(t *testing.T) {
	mgr, _ := newTestManager()
	mgr.cfg.IdleTimeout = time.Millisecond
	id := mgr.CreateSession(UserInfo{UserID: "u1"})
	time.Sleep(5 * time.Millisecond)
	if _, ok := mgr.GetSession(id); ok {
		t.Fatal("expected session to report expired past idle timeout")
	}
}
