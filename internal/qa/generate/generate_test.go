package generate

import (
	"context"
	"testing"

	"manifold/internal/llm"
)

type fakeProvider struct {
	content string
	err     error
	lastMsgs []llm.Message
}

func (f *fakeProvider) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	f.lastMsgs = msgs
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.content}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func testPrompts() PromptSet {
	return PromptSet{
		System:           "You are a helpful property-management assistant.",
		ResponseTemplate: "Answer using only the passages below.",
		FallbackTemplate: "Sorry, something went wrong.",
	}
}

func TestGenerateWithPassages(t *testing.T) {
	p := &fakeProvider{content: "Click Add Photos to upload."}
	g := New(p, "test-model", testPrompts())
	res, err := g.Generate(context.Background(), Request{
		Query:    "how do I upload photos",
		Passages: []Passage{{Title: "Upload Photos Guide", EntryType: "how_to", Confidence: 0.9, Text: "Tap Add Photos."}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content == "" {
		t.Fatalf("expected non-empty content")
	}
	if len(p.lastMsgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(p.lastMsgs))
	}
}

func TestGenerateWithEmptyPassagesStillProceeds(t *testing.T) {
	p := &fakeProvider{content: "Click Add Photos, as I mentioned."}
	g := New(p, "test-model", testPrompts())
	res, err := g.Generate(context.Background(), Request{Query: "remind me", ConversationContext: "User: how do I upload\nAssistant: click Add Photos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content == "" {
		t.Fatalf("expected content even with no passages")
	}
}

func TestGenerateFallbackUsesTemplate(t *testing.T) {
	g := New(&fakeProvider{}, "test-model", testPrompts())
	if g.GenerateFallback() != "Sorry, something went wrong." {
		t.Errorf("expected configured fallback template")
	}
}

func TestGenerateFallbackDefaultWhenNoTemplate(t *testing.T) {
	g := New(&fakeProvider{}, "test-model", PromptSet{})
	if g.GenerateFallback() == "" {
		t.Errorf("expected a non-empty default fallback")
	}
}
