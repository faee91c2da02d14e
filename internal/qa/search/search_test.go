package search

import (
	"context"
	"testing"

	"manifold/internal/qa/classify"
	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

func seedStore(t *testing.T) (*vectorstore.MemoryStore, vectorstore.Embedder) {
	t.Helper()
	embedder := vectorstore.NewDeterministicEmbedder(32)
	ctx := context.Background()

	chunks := []types.KBChunk{
		{ID: "c1", ParentID: "p1", Source: "Upload Photos Guide", Text: "how do i upload photos to the listing", ChunkIndex: 0, Metadata: map[string]string{"entryType": "how_to", "totalChunks": "2"}},
		{ID: "c2", ParentID: "p1", Source: "Upload Photos Guide", Text: "step 2 tap the camera icon to add more photos", ChunkIndex: 1, Metadata: map[string]string{"entryType": "how_to", "totalChunks": "2"}},
		{ID: "c3", ParentID: "p2", Source: "Error Codes", Text: "error E100 means the upload failed", ChunkIndex: 0, Metadata: map[string]string{"entryType": "error", "totalChunks": "1"}},
	}
	vectors := make(map[string][]float32)
	for _, c := range chunks {
		v, _ := embedder.Embed(ctx, c.Text)
		vectors[c.ID] = v
	}
	store := vectorstore.NewMemoryStore(chunks, vectors)
	return store, embedder
}

func TestSearchPrimaryHit(t *testing.T) {
	store, embedder := seedStore(t)
	strategy := New(store, embedder, Options{Threshold: 0.01, TopK: 3})
	res, err := strategy.Search(context.Background(), Request{Query: "how do i upload photos to the listing", Tag: classify.TagHowTo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatalf("expected at least one hit")
	}
	if res.Attempts[0].Stage != "primary" {
		t.Fatalf("expected first attempt to be primary, got %q", res.Attempts[0].Stage)
	}
}

func TestSearchFallsBackWhenPrimaryEmpty(t *testing.T) {
	store, embedder := seedStore(t)
	strategy := New(store, embedder, Options{Threshold: 0.01, TopK: 3})
	// "workflow" tag has no matching entryType in the store, so primary
	// (filtered) should return zero and the parent-less fallback should
	// pick up the howto chunk via similarity alone.
	res, err := strategy.Search(context.Background(), Request{Query: "upload photos to the listing", Tag: classify.TagWorkflow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Attempts) < 2 {
		t.Fatalf("expected a fallback attempt, got %d attempts", len(res.Attempts))
	}
}

func TestSearchNoHitsAfterAllFallbacks(t *testing.T) {
	store, embedder := vectorstore.NewMemoryStore(nil, nil), vectorstore.NewDeterministicEmbedder(32)
	strategy := New(store, embedder, Options{Threshold: 0.5, TopK: 3})
	res, err := strategy.Search(context.Background(), Request{Query: "how do I schedule a moon landing", Tag: classify.TagHowTo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("expected zero hits, got %d", len(res.Hits))
	}
}

func TestNeedsFullContext(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"how do I upload photos", true},
		{"walk me through the entire process", true},
		{"what is step 3 of uploading photos", false},
		{"what is a lease addendum", false},
		{"I'm getting an error uploading", false},
		{"tell me about the weather", false},
	}
	for _, tc := range cases {
		if got := NeedsFullContext(tc.query); got != tc.want {
			t.Errorf("NeedsFullContext(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestExpandParentsFillsHoles(t *testing.T) {
	store, embedder := seedStore(t)
	ctx := context.Background()
	vec, _ := embedder.Embed(ctx, "how do i upload photos")

	// Only the first chunk of p1 (total=2) matched initially.
	partial := []types.KBChunk{
		{ID: "c1", ParentID: "p1", Source: "Upload Photos Guide", ChunkIndex: 0, Metadata: map[string]string{"totalChunks": "2"}},
	}
	expanded := ExpandParents(ctx, store, "how do I upload photos, the entire process", vec, partial)
	ids := make(map[string]bool)
	for _, c := range expanded {
		ids[c.ID] = true
	}
	if !ids["c1"] || !ids["c2"] {
		t.Fatalf("expected both chunks of parent p1 present, got %+v", expanded)
	}
}

func TestExpandParentsSkippedWhenNotComprehensive(t *testing.T) {
	store, embedder := seedStore(t)
	ctx := context.Background()
	vec, _ := embedder.Embed(ctx, "what is step 1")
	partial := []types.KBChunk{
		{ID: "c1", ParentID: "p1", ChunkIndex: 0, Metadata: map[string]string{"totalChunks": "2"}},
	}
	expanded := ExpandParents(ctx, store, "what is step 1 of uploading photos", vec, partial)
	if len(expanded) != 1 {
		t.Fatalf("expected expansion to be skipped, got %d chunks", len(expanded))
	}
}
