package intelligence

import (
	"context"
	"testing"

	"manifold/internal/llm"
	"manifold/internal/qa/classify"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.content}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func TestAnalyzeParsesBareJSON(t *testing.T) {
	p := &fakeProvider{content: `{"is_followup":false,"can_answer_from_context":false,"matched_related_doc":"","routing":"full_rag","enhanced_query":"how to upload photos to a listing","category":"media","intent":"howto","tags":["photos"],"confidence":0.9}`}
	e := New(p, "test-model")
	a, err := e.Analyze(context.Background(), Request{Query: "how do I upload photos", ClassifierTag: classify.TagHowTo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Routing != RouteFullRAG {
		t.Errorf("routing = %q, want %q", a.Routing, RouteFullRAG)
	}
	if a.EnhancedQuery == "" {
		t.Errorf("expected enhanced query to be populated")
	}
}

func TestAnalyzeParsesJSONWrappedInProseAndCodeFences(t *testing.T) {
	wrapped := "Sure, here's the analysis:\n```json\n{\"routing\":\"full_rag\",\"enhanced_query\":\"q\",\"confidence\":0.5}\n```\nLet me know if you need anything else."
	p := &fakeProvider{content: wrapped}
	e := New(p, "test-model")
	a, err := e.Analyze(context.Background(), Request{Query: "q", ClassifierTag: classify.TagGeneral})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.EnhancedQuery != "q" {
		t.Errorf("expected enhanced_query 'q', got %q", a.EnhancedQuery)
	}
}

func TestAnalyzeFallsBackOnMalformedJSON(t *testing.T) {
	p := &fakeProvider{content: "not json at all"}
	e := New(p, "test-model")
	a, err := e.Analyze(context.Background(), Request{Query: "original query", ClassifierTag: classify.TagDefinition})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Routing != RouteFullRAG || a.EnhancedQuery != "original query" || a.Intent != string(classify.TagDefinition) {
		t.Errorf("unexpected fallback analysis: %+v", a)
	}
}

func TestRoutingCoherenceCanAnswerFromContextWins(t *testing.T) {
	a := Analysis{CanAnswerFromContext: true, MatchedRelatedDoc: "Some Doc"}
	applyRoutingCoherence(&a, []string{"Some Doc"})
	if a.Routing != RouteAnswerFromContext {
		t.Errorf("routing = %q, want %q", a.Routing, RouteAnswerFromContext)
	}
}

func TestRoutingCoherenceDiscardsUnknownTitle(t *testing.T) {
	a := Analysis{MatchedRelatedDoc: "Unknown Doc"}
	applyRoutingCoherence(&a, []string{"Known Doc"})
	if a.Routing != RouteFullRAG || a.MatchedRelatedDoc != "" {
		t.Errorf("expected full_rag with cleared title, got %+v", a)
	}
}

func TestRoutingCoherenceMatchedDocTargetsKB(t *testing.T) {
	a := Analysis{MatchedRelatedDoc: "Known Doc"}
	applyRoutingCoherence(&a, []string{"known doc"})
	if a.Routing != RouteSearchKBTargeted {
		t.Errorf("routing = %q, want %q", a.Routing, RouteSearchKBTargeted)
	}
}

func TestAnalyzeFallsBackOnProviderError(t *testing.T) {
	p := &fakeProvider{err: context.DeadlineExceeded}
	e := New(p, "test-model")
	a, err := e.Analyze(context.Background(), Request{Query: "q", ClassifierTag: classify.TagGeneral})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if a.Routing != RouteFullRAG {
		t.Errorf("expected fallback routing on provider error, got %+v", a)
	}
}
