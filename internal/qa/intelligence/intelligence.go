// Package intelligence implements Query Intelligence (C6, spec §4.3): a
// single LLM call that produces a routing decision, an enhanced query,
// and extracted metadata. Grounded on
// original_source/src/agent/query_processing/query_intelligence.py for
// the prompt shape and the first-`{`/last-`}` JSON extraction fallback,
// using manifold/internal/llm's Provider interface for the chat call the
// way every other qa package does.
package intelligence

import (
	"context"
	"encoding/json"
	"strings"

	"manifold/internal/llm"
	"manifold/internal/qa/classify"
)

// Routing is the orchestrator's branch decision (spec GLOSSARY).
type Routing string

const (
	RouteAnswerFromContext Routing = "answer_from_context"
	RouteSearchKBTargeted  Routing = "search_kb_targeted"
	RouteFullRAG           Routing = "full_rag"
)

// Analysis is the parsed (or fallback) output of one Query Intelligence
// call.
type Analysis struct {
	IsFollowup           bool     `json:"is_followup"`
	CanAnswerFromContext bool     `json:"can_answer_from_context"`
	MatchedRelatedDoc    string   `json:"matched_related_doc"`
	Routing              Routing  `json:"routing"`
	EnhancedQuery        string   `json:"enhanced_query"`
	Category             string   `json:"category"`
	Intent               string   `json:"intent"`
	Tags                 []string `json:"tags"`
	Confidence           float64  `json:"confidence"`

	// PromptTokens/CompletionTokens carry usage for the cost meter; set
	// by Analyze from the provider response when available.
	PromptTokens     int
	CompletionTokens int
}

// Engine drives the single Query Intelligence LLM call.
type Engine struct {
	provider llm.Provider
	model    string
}

// New constructs an Engine.
func New(provider llm.Provider, model string) *Engine {
	return &Engine{provider: provider, model: model}
}

// Request carries everything the call needs.
type Request struct {
	Query              string
	ClassifierTag      classify.Tag
	ConversationContext string // pre-formatted recent turns + summary
	RelatedDocTitles   []string
}

const systemPrompt = `You are a query routing and enhancement engine for a property-management knowledge base. Given a user query, conversation context, and a list of previously surfaced document titles, respond with a single JSON object with exactly these fields: is_followup (bool), can_answer_from_context (bool), matched_related_doc (string, empty if none), routing (one of "answer_from_context", "search_kb_targeted", "full_rag"), enhanced_query (string), category (string), intent (string), tags (array of strings), confidence (0..1 float). Respond with JSON only, no prose, no code fences.`

// Analyze performs the call and enforces the routing-coherence rule from
// spec §4.3: can_answer_from_context forces routing=answer_from_context;
// otherwise a matched_related_doc present in the supplied titles forces
// search_kb_targeted; otherwise full_rag. A title the model returns that
// is not in the supplied list is discarded (routing falls through as if
// no match occurred).
func (e *Engine) Analyze(ctx context.Context, req Request) (Analysis, error) {
	userContent := buildUserPrompt(req)
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		return fallback(req), err
	}

	analysis, parseErr := parseAnalysis(resp.Content)
	if parseErr != nil {
		return fallback(req), nil
	}

	applyRoutingCoherence(&analysis, req.RelatedDocTitles)
	return analysis, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(req.Query)
	b.WriteString("\nClassifier tag: ")
	b.WriteString(string(req.ClassifierTag))
	if req.ConversationContext != "" {
		b.WriteString("\nConversation context:\n")
		b.WriteString(req.ConversationContext)
	}
	if len(req.RelatedDocTitles) > 0 {
		b.WriteString("\nPreviously surfaced documents: ")
		b.WriteString(strings.Join(req.RelatedDocTitles, "; "))
	}
	return b.String()
}

// fallback implements spec §4.3's "on parse failure" contract and is also
// used when the chat call itself fails (spec §7: "Intelligence LLM
// failure or malformed output -> local fallback").
func fallback(req Request) Analysis {
	return Analysis{
		Routing:       RouteFullRAG,
		EnhancedQuery: req.Query,
		Intent:        string(req.ClassifierTag),
	}
}

// parseAnalysis strips surrounding prose and code-fence markers by
// locating the first `{` and last `}` in the raw content and attempting
// to parse the substring, per spec §4.3.
func parseAnalysis(raw string) (Analysis, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return Analysis{}, errNotJSON
	}
	candidate := raw[start : end+1]
	var a Analysis
	if err := json.Unmarshal([]byte(candidate), &a); err != nil {
		return Analysis{}, err
	}
	return a, nil
}

var errNotJSON = jsonShapeError("no JSON object found in response")

type jsonShapeError string

func (e jsonShapeError) Error() string { return string(e) }

func applyRoutingCoherence(a *Analysis, knownTitles []string) {
	if a.CanAnswerFromContext {
		a.Routing = RouteAnswerFromContext
		return
	}
	if a.MatchedRelatedDoc != "" && titleKnown(a.MatchedRelatedDoc, knownTitles) {
		a.Routing = RouteSearchKBTargeted
		return
	}
	a.MatchedRelatedDoc = ""
	a.Routing = RouteFullRAG
}

func titleKnown(title string, known []string) bool {
	for _, t := range known {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(title)) {
			return true
		}
	}
	return false
}
