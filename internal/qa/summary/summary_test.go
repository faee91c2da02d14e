package summary

import (
	"context"
	"testing"

	"manifold/internal/llm"
	"manifold/internal/qa/types"
)

type fakeProvider struct {
	reply string
	err   error
}

func (f *fakeProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func TestSummarizeParsesPayload(t *testing.T) {
	p := &fakeProvider{reply: `{"summary":"User is setting up photo uploads.","current_topic":"photo uploads","conversation_state":"exploring","key_facts":["user owns 3 listings"]}`}
	s := New(p, "test-model")
	out := s.Summarize(context.Background(), types.RollingSummary{}, []types.Turn{{Query: "how do I upload photos", Response: "tap add photos"}})
	if out.Text == "" {
		t.Fatalf("expected non-empty summary text")
	}
	if out.TurnsCount != 1 {
		t.Errorf("turnsCount = %d, want 1", out.TurnsCount)
	}
}

func TestSummarizeKeepsPreviousOnProviderError(t *testing.T) {
	p := &fakeProvider{err: context.DeadlineExceeded}
	s := New(p, "test-model")
	previous := types.RollingSummary{Text: "old summary", TurnsCount: 5}
	out := s.Summarize(context.Background(), previous, []types.Turn{{Query: "q"}})
	if out.Text != previous.Text || out.TurnsCount != previous.TurnsCount {
		t.Errorf("expected previous summary unchanged on error, got %+v", out)
	}
}

func TestSummarizeKeepsPreviousOnMalformedJSON(t *testing.T) {
	p := &fakeProvider{reply: "not json"}
	s := New(p, "test-model")
	previous := types.RollingSummary{Text: "old summary", TurnsCount: 5}
	out := s.Summarize(context.Background(), previous, []types.Turn{{Query: "q"}})
	if out.Text != previous.Text {
		t.Errorf("expected previous summary unchanged on malformed output, got %+v", out)
	}
}
