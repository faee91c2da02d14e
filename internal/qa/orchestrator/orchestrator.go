// Package orchestrator implements the Orchestrator (C14, spec §4.1): the
// top-level per-query state machine composing the Classifier (C5), Query
// Intelligence (C6), Search Strategy (C7), Parent Reconstruction (C8),
// Reranker (C9), Response Generator (C10), and Escalation Engine (C11),
// and committing the result to the Conversation Cache and Analytics
// Buffer via the Session Manager. Grounded on internal/rag/service.Service
// for the stage-timed, sequentially-awaited pipeline shape, generalized
// from a single retrieve-then-generate call to the nine-step flow spec
// §4.1 describes.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"manifold/internal/qa/classify"
	"manifold/internal/qa/cost"
	"manifold/internal/qa/escalate"
	"manifold/internal/qa/generate"
	"manifold/internal/qa/intelligence"
	"manifold/internal/qa/rerank"
	"manifold/internal/qa/search"
	"manifold/internal/qa/session"
	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

// greetingAnswer is the canned reply for queries the classifier tags as a
// pure greeting (spec §8 scenario 1), matching the original's
// `if query_type == "greeting": return canned response` short-circuit
// (original_source/src/agent/orchestrator.py ~120-133): no Intelligence
// call, no retrieval, confidence 1.0, empty sources.
const greetingAnswer = "Hello! I'm here to help with your property management questions. What can I help you with today?"

// Request is one incoming query.
type Request struct {
	SessionID    string
	Query        string
	UserClassTag string // optional user-class filter
	IncludeDebug bool   // whether to populate Response.DebugMetrics
}

// Orchestrator drives one query end-to-end.
type Orchestrator struct {
	sessions     *session.Manager
	strategy     *search.Strategy
	store        vectorstore.Store
	reranker     rerank.Reranker
	intelligence *intelligence.Engine
	generator    *generate.Generator
	escalation   *escalate.Engine
	costMeter    *cost.Meter

	intelligenceModel string
	generationModel   string
}

// New wires every composed component into one Orchestrator.
func New(
	sessions *session.Manager,
	strategy *search.Strategy,
	store vectorstore.Store,
	reranker rerank.Reranker,
	intel *intelligence.Engine,
	generator *generate.Generator,
	escalation *escalate.Engine,
	costMeter *cost.Meter,
	intelligenceModel, generationModel string,
) *Orchestrator {
	return &Orchestrator{
		sessions:          sessions,
		strategy:          strategy,
		store:             store,
		reranker:          reranker,
		intelligence:      intel,
		generator:         generator,
		escalation:        escalation,
		costMeter:         costMeter,
		intelligenceModel: intelligenceModel,
		generationModel:   generationModel,
	}
}

// relatedDocTitles extracts the distinct source titles seen so far in a
// session's cached turns, used as the "previously surfaced" list Query
// Intelligence needs for search_kb_targeted routing (spec §4.1 step 3).
func relatedDocTitles(turns []types.Turn) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range turns {
		for _, s := range t.Sources {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Handle runs the nine-step flow from spec §4.1 for one query. Any stage
// failure not caught by a local fallback becomes a terminal "internal
// error" response (confidence 0, empty sources), still recorded in the
// analytics buffer via AddMessage, per spec §4.1's failure semantics.
func (o *Orchestrator) Handle(ctx context.Context, req Request) types.Response {
	totalStart := time.Now()
	var timings types.StageTimings

	// 1. Ingest: append the user turn.
	if err := o.sessions.AddMessage(ctx, req.SessionID, "user", req.Query, types.Turn{}); err != nil {
		return internalErrorResponse(req.IncludeDebug, &timings, totalStart)
	}

	llmCtx, err := o.sessions.GetContextForLLM(ctx, req.SessionID)
	if err != nil {
		return o.commitInternalError(ctx, req, &timings, totalStart)
	}
	sess, ok := o.sessions.GetSession(req.SessionID)
	if !ok {
		return internalErrorResponse(req.IncludeDebug, &timings, totalStart)
	}
	knownTitles := relatedDocTitles(sess.Turns)

	// 2. Classify (C5).
	classifyStart := time.Now()
	tag, classifierConfidence := classify.Classify(req.Query)
	timings.ClassifyMs = time.Since(classifyStart).Milliseconds()

	if tag == classify.TagGreeting {
		timings.TotalMs = time.Since(totalStart).Milliseconds()
		return o.commitGreeting(ctx, req, &timings, totalStart)
	}

	// 3. Intelligence (C6).
	intelStart := time.Now()
	analysis, err := o.intelligence.Analyze(ctx, intelligence.Request{
		Query:               req.Query,
		ClassifierTag:       tag,
		ConversationContext: llmCtx.Formatted,
		RelatedDocTitles:    knownTitles,
	})
	timings.IntelligenceMs = time.Since(intelStart).Milliseconds()
	if err == nil {
		o.costMeter.RecordChat(req.SessionID, cost.OpQueryIntelligence, o.intelligenceModel,
			cost.EstimateEmbeddingTokens(llmCtx.Formatted+req.Query), cost.EstimateEmbeddingTokens(analysis.EnhancedQuery))
	}
	if analysis.Confidence <= 0 {
		analysis.Confidence = classifierConfidence
	}

	var hits []types.KBChunk
	var attempts []types.SearchAttempt
	var searchEmbedding []float32
	var answerSource string

	// 4. Branch on routing.
	searchStart := time.Now()
	switch analysis.Routing {
	case intelligence.RouteAnswerFromContext:
		answerSource = generate.SyntheticContextSource
	case intelligence.RouteSearchKBTargeted:
		result, serr := o.strategy.Search(ctx, search.Request{
			Query: analysis.EnhancedQuery, Tag: tag, UserClassTag: req.UserClassTag, RelatedDocName: analysis.MatchedRelatedDoc,
		})
		if serr == nil {
			hits, attempts, searchEmbedding = result.Hits, result.Attempts, result.Embedding
		}
	default: // full_rag
		result, serr := o.strategy.Search(ctx, search.Request{
			Query: analysis.EnhancedQuery, Tag: tag, UserClassTag: req.UserClassTag,
		})
		if serr == nil {
			hits, attempts, searchEmbedding = result.Hits, result.Attempts, result.Embedding
		}
	}
	timings.SearchMs = time.Since(searchStart).Milliseconds()

	// 5. Parent reconstruction (C8).
	if analysis.Routing != intelligence.RouteAnswerFromContext {
		hits = search.ExpandParents(ctx, o.store, req.Query, searchEmbedding, hits)
	}

	// 6. Rerank (C9).
	rerankStart := time.Now()
	if analysis.Routing != intelligence.RouteAnswerFromContext {
		hits = o.reranker.Rerank(analysis.EnhancedQuery, tag, hits, 0)
	}
	timings.RerankMs = time.Since(rerankStart).Milliseconds()

	// 7. Generate (C10).
	genStart := time.Now()
	genResult, err := o.generator.Generate(ctx, generate.Request{
		Query:               req.Query,
		Passages:            generate.PassagesFromChunks(hits),
		ConversationContext: llmCtx.Formatted,
	})
	timings.GenerateMs = time.Since(genStart).Milliseconds()

	var answerText string
	if err != nil {
		answerText = o.generator.GenerateFallback()
	} else {
		answerText = genResult.Content
		o.costMeter.RecordChat(req.SessionID, cost.OpResponseGeneration, o.generationModel,
			cost.EstimateEmbeddingTokens(llmCtx.Formatted+req.Query), cost.EstimateEmbeddingTokens(answerText))
	}

	// Confidence and the escalation floor are based on raw vector
	// similarity, never the post-rerank boosted score (spec §8 scenario 2;
	// original's best_similarity = max(r["similarity_score"] ...) in
	// orchestrator.py keeps rerank_score purely for ordering).
	confidence := analysis.Confidence
	if analysis.Routing == intelligence.RouteAnswerFromContext {
		confidence = 0.9
	} else if len(hits) > 0 {
		confidence = maxRawScore(hits)
	}

	// 8. Escalate (C11).
	escalateStart := time.Now()
	escResult := o.escalation.Decide(ctx, req.Query, hits, confidence, llmCtx.RecentTurns)
	finalAnswer := escalate.Shape(answerText, escResult)
	timings.EscalateMs = time.Since(escalateStart).Milliseconds()

	timings.TotalMs = time.Since(totalStart).Milliseconds()

	sources := sourcesFromHits(hits, answerSource)

	// 9. Commit. A caller-cancelled query never commits its in-progress
	// turn (spec §5); already-buffered analytics records and prior turns
	// are unaffected since they were committed on earlier queries.
	if isCancelled(ctx) {
		resp := internalErrorResponse(req.IncludeDebug, &timings, totalStart)
		resp.Answer = ""
		return resp
	}
	costBreakdown := toCostBreakdown(o.costMeter.Snapshot(req.SessionID), o.generationModel)
	queryMeta := types.QueryMetadata{Category: analysis.Category, Intent: analysis.Intent, Tags: analysis.Tags}

	turnMeta := types.Turn{
		Confidence:     confidence,
		Sources:        sources,
		Escalated:      escResult.ShouldEscalate,
		Classification: string(tag),
		Cost:           costBreakdown,
		SearchAttempts: attempts,
		IsFollowup:     classify.IsLikelyFollowup(req.Query),
		EnhancedQuery:  analysis.EnhancedQuery,
		QueryMetadata:  queryMeta,
	}
	if err := o.sessions.AddMessage(ctx, req.SessionID, "assistant", finalAnswer, turnMeta); err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("orchestrator_commit_turn_error")
	}

	resp := types.Response{
		Answer:         finalAnswer,
		Confidence:     confidence,
		Sources:        sources,
		Classification: string(tag),
		Escalated:      escResult.ShouldEscalate,
		Cost:           costBreakdown,
		EnhancedQuery:  analysis.EnhancedQuery,
		SearchAttempts: attempts,
		QueryMetadata:  queryMeta,
	}
	if escResult.ShouldEscalate {
		resp.EscalationMsg = escResult.Message
	}
	if req.IncludeDebug {
		resp.DebugMetrics = &timings
	}
	logSearchAttempts(req.SessionID, attempts)
	return resp
}

// toCostBreakdown maps the cost meter's internal per-call-site snapshot
// into the response/analytics CostBreakdown shape, combining the
// Intelligence and Response Generation chat calls into one prompt/
// completion total per spec §4.8.
func toCostBreakdown(b cost.Breakdown, model string) types.CostBreakdown {
	return types.CostBreakdown{
		Model:            model,
		PromptTokens:     b.IntelligencePromptTokens + b.ResponsePromptTokens,
		CompletionTokens: b.IntelligenceCompletionTokens + b.ResponseCompletionTokens,
		EmbeddingTokens:  b.EmbeddingPromptTokens,
		PromptCostUSD:    b.IntelligenceCostUSD + b.ResponseCostUSD,
		EmbeddingCostUSD: b.EmbeddingCostUSD,
		TotalCostUSD:     b.TotalCostUSD,
	}
}

// maxRawScore returns the best (highest) raw vector-similarity score among
// hits, ignoring the post-rerank boosted Score field.
func maxRawScore(hits []types.KBChunk) float64 {
	best := 0.0
	for _, h := range hits {
		if h.RawScore > best {
			best = h.RawScore
		}
	}
	return best
}

// commitGreeting short-circuits the pipeline for a pure greeting query:
// no Intelligence call, no Search Strategy invocation, just the canned
// answer committed straight to the session and analytics buffer.
func (o *Orchestrator) commitGreeting(ctx context.Context, req Request, timings *types.StageTimings, totalStart time.Time) types.Response {
	if isCancelled(ctx) {
		resp := internalErrorResponse(req.IncludeDebug, timings, totalStart)
		resp.Answer = ""
		return resp
	}
	turnMeta := types.Turn{
		Confidence:     1.0,
		Sources:        []string{},
		Classification: string(classify.TagGreeting),
	}
	if err := o.sessions.AddMessage(ctx, req.SessionID, "assistant", greetingAnswer, turnMeta); err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID).Msg("orchestrator_commit_turn_error")
	}
	resp := types.Response{
		Answer:         greetingAnswer,
		Confidence:     1.0,
		Sources:        []string{},
		Classification: string(classify.TagGreeting),
	}
	if req.IncludeDebug {
		resp.DebugMetrics = timings
	}
	return resp
}

// logSearchAttempts records the fallback ladder's per-stage outcome for
// observability (spec §4.4's "each attempt records..."); the structured
// analytics record itself only needs the final hit list, so this is the
// one place the per-attempt log is otherwise used.
func logSearchAttempts(sessionID string, attempts []types.SearchAttempt) {
	if len(attempts) == 0 {
		return
	}
	evt := log.Debug().Str("session_id", sessionID)
	for _, a := range attempts {
		evt = evt.Str("stage_"+a.Stage, a.Stage)
	}
	evt.Int("attempt_count", len(attempts)).Msg("search_fallback_attempts")
}

// commitInternalError appends a placeholder assistant turn so the
// session's turn/analytics invariants hold even when a stage fails
// before generation runs.
func (o *Orchestrator) commitInternalError(ctx context.Context, req Request, timings *types.StageTimings, totalStart time.Time) types.Response {
	_ = o.sessions.AddMessage(ctx, req.SessionID, "assistant", "", types.Turn{Classification: "internal_error"})
	return internalErrorResponse(req.IncludeDebug, timings, totalStart)
}

func internalErrorResponse(includeDebug bool, timings *types.StageTimings, totalStart time.Time) types.Response {
	timings.TotalMs = time.Since(totalStart).Milliseconds()
	resp := types.Response{
		Answer:     "I'm sorry, something went wrong while handling your request. Please try again.",
		Confidence: 0,
		Sources:    []string{},
	}
	if includeDebug {
		resp.DebugMetrics = timings
	}
	return resp
}

func sourcesFromHits(hits []types.KBChunk, synthetic string) []string {
	if synthetic != "" {
		return []string{synthetic}
	}
	seen := make(map[string]struct{}, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Source == "" {
			continue
		}
		if _, ok := seen[h.Source]; ok {
			continue
		}
		seen[h.Source] = struct{}{}
		out = append(out, h.Source)
	}
	return out
}

// isCancelled reports whether ctx has already been cancelled. Checked
// immediately before the commit step so a client disconnect never lands
// the in-progress turn (spec §5).
func isCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
