package qahttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"manifold/internal/llm"
	"manifold/internal/qa/analytics"
	"manifold/internal/qa/cache"
	"manifold/internal/qa/cost"
	"manifold/internal/qa/escalate"
	"manifold/internal/qa/generate"
	"manifold/internal/qa/intelligence"
	"manifold/internal/qa/orchestrator"
	"manifold/internal/qa/rerank"
	"manifold/internal/qa/search"
	"manifold/internal/qa/session"
	"manifold/internal/qa/summary"
	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

type scriptedProvider struct{ reply string }

func (p *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	return llm.Message{Content: p.reply}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

type fakeDurable struct{}

func (fakeDurable) WriteFinalSummary(context.Context, string, types.RollingSummary) error { return nil }
func (fakeDurable) WriteAnalyticsBatch(context.Context, []types.AnalyticsRecord) error     { return nil }
func (fakeDurable) IncrementUserActivity(context.Context, string, int, int, float64) error {
	return nil
}
func (fakeDurable) PrependSessionDescriptor(context.Context, string, types.SessionDescriptor, int) error {
	return nil
}

func buildServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()

	chunks := []types.KBChunk{
		{ID: "c1", ParentID: "p1", Text: "Open the resident portal and select Payments.", Source: "Rent Payment Guide", Score: 0.82, ChunkIndex: 0},
	}
	vectors := map[string][]float32{"c1": {1, 0, 0}}
	store := vectorstore.NewMemoryStore(chunks, vectors)
	embedder := vectorstore.NewDeterministicEmbedder(3)
	strategy := search.New(store, embedder, search.Options{Threshold: 0, TopK: 3})

	intel := intelligence.New(&scriptedProvider{reply: `{"routing":"full_rag","enhanced_query":"how do I pay rent","confidence":0.85}`}, "test-intel-model")
	gen := generate.New(&scriptedProvider{reply: "You can pay rent through the resident portal."}, "test-gen-model", generate.PromptSet{
		System:           "system",
		ResponseTemplate: "respond",
		FallbackTemplate: "fallback answer",
	})
	esc := escalate.New(&scriptedProvider{reply: "No"}, "test-escalate-model", 0.7)

	c := cache.NewInMemoryCache(time.Hour, 8)
	ab := analytics.New()
	cm := cost.New(cost.DefaultPriceTable())
	sm := summary.New(&scriptedProvider{reply: `{"summary":"s","current_topic":"t","conversation_state":"exploring","key_facts":[]}`}, "test-summary-model")
	sessions := session.New(session.DefaultConfig(), c, ab, cm, sm, fakeDurable{})

	orch := orchestrator.New(sessions, strategy, store, rerank.New(), intel, gen, esc, cm, "test-intel-model", "test-gen-model")
	health := NewHealthChecker(c, store, embedder, &scriptedProvider{reply: "pong"}, "test-intel-model")

	srv := NewServer(orch, sessions, health, Config{RateLimitPerMinute: 6000, RateLimitBurst: 6000})
	return srv, sessions
}

func postChat(t *testing.T, srv *Server, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleTestEndpointIncludesDebugAndClassifierConfidence(t *testing.T) {
	srv, _ := buildServer(t)
	rec := postChat(t, srv, "/api/agent/test", map[string]any{"message": "how do I pay rent"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Response)
	require.NotEmpty(t, resp.SessionID)
	require.NotNil(t, resp.DebugMetrics)
	require.Equal(t, "how do I pay rent", resp.EnhancedQuery)
}

func TestHandleSupportEndpointOmitsEnhancedQuery(t *testing.T) {
	srv, _ := buildServer(t)
	rec := postChat(t, srv, "/api/agent/support", map[string]any{"message": "how do I pay rent"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.EnhancedQuery)
	require.Empty(t, resp.SearchAttempts)
	require.Nil(t, resp.QueryMetadata)
}

func TestHandleSupportEndpointOmitsDebugMetrics(t *testing.T) {
	srv, _ := buildServer(t)
	rec := postChat(t, srv, "/api/agent/support", map[string]any{"message": "how do I pay rent"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.DebugMetrics)
}

func TestHandleCustomerEndpointStripsConfidenceAndSources(t *testing.T) {
	srv, _ := buildServer(t)
	rec := postChat(t, srv, "/api/agent/customer", map[string]any{"message": "how do I pay rent"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Zero(t, resp.Confidence)
	require.Empty(t, resp.Sources)
	require.Empty(t, resp.QueryType)
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := buildServer(t)
	rec := postChat(t, srv, "/api/agent/test", map[string]any{"message": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatReusesProvidedSession(t *testing.T) {
	srv, sessions := buildServer(t)
	id := sessions.CreateSession(session.UserInfo{UserID: "u1"})

	rec := postChat(t, srv, "/api/agent/test", map[string]any{"message": "how do I pay rent", "session_id": id})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.SessionID)
}

func TestHandleHealthReportsHealthy(t *testing.T) {
	srv, _ := buildServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, StatusHealthy, report.Status)
	require.Len(t, report.Dependencies, 4)
}

func TestRateLimiterReturns429WhenExceeded(t *testing.T) {
	chunks := []types.KBChunk{{ID: "c1", ParentID: "p1", Text: "text", Source: "Guide"}}
	store := vectorstore.NewMemoryStore(chunks, map[string][]float32{"c1": {1, 0, 0}})
	embedder := vectorstore.NewDeterministicEmbedder(3)
	strategy := search.New(store, embedder, search.Options{Threshold: 0, TopK: 3})
	intel := intelligence.New(&scriptedProvider{reply: `{"routing":"full_rag","enhanced_query":"q","confidence":0.8}`}, "m")
	gen := generate.New(&scriptedProvider{reply: "answer"}, "m", generate.PromptSet{System: "s", ResponseTemplate: "r", FallbackTemplate: "f"})
	esc := escalate.New(&scriptedProvider{reply: "No"}, "m", 0.7)
	c := cache.NewInMemoryCache(time.Hour, 8)
	cm := cost.New(cost.DefaultPriceTable())
	sm := summary.New(&scriptedProvider{reply: `{"summary":"s"}`}, "m")
	sessions := session.New(session.DefaultConfig(), c, analytics.New(), cm, sm, fakeDurable{})
	orch := orchestrator.New(sessions, strategy, store, rerank.New(), intel, gen, esc, cm, "m", "m")
	health := NewHealthChecker(c, store, embedder, &scriptedProvider{reply: "pong"}, "m")
	srv := NewServer(orch, sessions, health, Config{RateLimitPerMinute: 60, RateLimitBurst: 1})

	first := postChat(t, srv, "/api/agent/test", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, first.Code)

	second := postChat(t, srv, "/api/agent/test", map[string]any{"message": "hello"})
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("Retry-After"))
}
