package rerank

import (
	"testing"

	"manifold/internal/qa/classify"
	"manifold/internal/qa/types"
)

func TestRerankTruncatesAndClampsScores(t *testing.T) {
	hits := []types.KBChunk{
		{ID: "1", Source: "Upload Photos Guide", Text: "how to upload photos step by step", Score: 0.9, Metadata: map[string]string{"entryType": "how_to"}},
		{ID: "2", Source: "Billing FAQ", Text: "billing details", Score: 0.4},
		{ID: "3", Source: "Error Codes", Text: "error E100 means the upload failed, try to fix or solve it", Score: 0.6, Metadata: map[string]string{"entryType": "error"}},
		{ID: "4", Source: "Other", Text: "unrelated", Score: 0.5},
	}
	r := New()
	out := r.Rerank("how do I upload photos", classify.TagHowTo, hits, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	for _, h := range out {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("score %v out of [0,1] range", h.Score)
		}
	}
	if out[0].ID != "1" {
		t.Errorf("expected highest-boosted hit first, got %q", out[0].ID)
	}
}

func TestRerankPreservesRawSimilarityScore(t *testing.T) {
	hits := []types.KBChunk{
		{ID: "1", Source: "Upload Photos Guide", Text: "how to upload photos step by step", Score: 0.42, Metadata: map[string]string{"entryType": "how_to"}},
	}
	out := New().Rerank("how do I upload photos", classify.TagHowTo, hits, 1)
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].RawScore != 0.42 {
		t.Errorf("RawScore = %v, want the untouched original similarity 0.42", out[0].RawScore)
	}
	if out[0].Score == out[0].RawScore {
		t.Errorf("expected the boosted Score to differ from RawScore once heuristics apply, got both %v", out[0].Score)
	}
}

func TestRerankDefaultsMaxResults(t *testing.T) {
	hits := make([]types.KBChunk, 5)
	for i := range hits {
		hits[i] = types.KBChunk{ID: string(rune('a' + i)), Score: 0.5}
	}
	out := New().Rerank("general question", classify.TagGeneral, hits, 0)
	if len(out) != defaultMaxResults {
		t.Errorf("expected default max results %d, got %d", defaultMaxResults, len(out))
	}
}

func TestRerankEmptyHits(t *testing.T) {
	out := New().Rerank("query", classify.TagGeneral, nil, 3)
	if len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}
