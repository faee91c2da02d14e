package qahttp

import (
	"context"
	"time"

	"manifold/internal/llm"
	"manifold/internal/qa/cache"
	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

// Status is the health endpoint's overall state, per spec §6.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ProbeResult is one dependency's probe outcome.
type ProbeResult struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Report is the full health payload: overall status plus one probe per
// outbound dependency (cache, vector store, LLM chat, LLM embeddings).
type Report struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]ProbeResult `json:"dependencies"`
}

// HealthChecker probes every outbound dependency the orchestrator
// depends on. Extends the teacher's trivial /healthz ("ok") into the
// per-dependency probe contract spec §6 requires.
type HealthChecker struct {
	cache     cache.Cache
	store     vectorstore.Store
	embedder  vectorstore.Embedder
	chat      llm.Provider
	chatModel string
}

// NewHealthChecker wires the checker to the live dependency handles.
func NewHealthChecker(c cache.Cache, store vectorstore.Store, embedder vectorstore.Embedder, chat llm.Provider, chatModel string) *HealthChecker {
	return &HealthChecker{cache: c, store: store, embedder: embedder, chat: chat, chatModel: chatModel}
}

// Check probes every dependency with a short deadline and aggregates
// into an overall status: healthy if all pass, degraded if the cache is
// merely running on its in-memory fallback, down if any hard dependency
// (vector store, LLM chat, LLM embeddings) fails outright.
func (h *HealthChecker) Check(ctx context.Context) Report {
	deps := map[string]ProbeResult{
		"cache":          h.probeCache(ctx),
		"vector_store":   h.probeVectorStore(ctx),
		"llm_chat":       h.probeChat(ctx),
		"llm_embeddings": h.probeEmbeddings(ctx),
	}

	overall := StatusHealthy
	for _, r := range deps {
		switch r.Status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall != StatusDown {
				overall = StatusDegraded
			}
		}
	}
	return Report{Status: overall, Dependencies: deps}
}

func (h *HealthChecker) probeCache(ctx context.Context) ProbeResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := h.cache.AppendTurn(probeCtx, "__healthcheck__", types.Turn{Query: "ping"})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Status: StatusDown, LatencyMs: elapsed, Error: err.Error()}
	}
	if h.cache.Degraded() {
		return ProbeResult{Status: StatusDegraded, LatencyMs: elapsed}
	}
	return ProbeResult{Status: StatusHealthy, LatencyMs: elapsed}
}

func (h *HealthChecker) probeVectorStore(ctx context.Context) ProbeResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := h.store.SimilaritySearch(probeCtx, make([]float32, 1), 1, 0, vectorstore.SearchFilter{})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Status: StatusDown, LatencyMs: elapsed, Error: err.Error()}
	}
	return ProbeResult{Status: StatusHealthy, LatencyMs: elapsed}
}

func (h *HealthChecker) probeChat(ctx context.Context) ProbeResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := h.chat.Chat(probeCtx, []llm.Message{{Role: "user", Content: "ping"}}, nil, h.chatModel)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Status: StatusDown, LatencyMs: elapsed, Error: err.Error()}
	}
	return ProbeResult{Status: StatusHealthy, LatencyMs: elapsed}
}

func (h *HealthChecker) probeEmbeddings(ctx context.Context) ProbeResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := h.embedder.Embed(probeCtx, "ping")
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Status: StatusDown, LatencyMs: elapsed, Error: err.Error()}
	}
	return ProbeResult{Status: StatusHealthy, LatencyMs: elapsed}
}
