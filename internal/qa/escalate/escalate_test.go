package escalate

import (
	"context"
	"strings"
	"testing"

	"manifold/internal/llm"
	"manifold/internal/qa/types"
)

type fakeProvider struct {
	reply string
}

func (f *fakeProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	return llm.Message{Content: f.reply}, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func TestDecideUserRequested(t *testing.T) {
	e := New(&fakeProvider{reply: "Yes"}, "model", 0.7)
	res := e.Decide(context.Background(), "please get me a human", []types.KBChunk{{ID: "1"}}, 0.95, nil)
	if !res.ShouldEscalate || res.Reason != "user_requested" {
		t.Errorf("expected user_requested escalation, got %+v", res)
	}
}

func TestDecideNoResultsFound(t *testing.T) {
	e := New(&fakeProvider{reply: "No"}, "model", 0.7)
	res := e.Decide(context.Background(), "how do I schedule a moon landing", nil, 0, nil)
	if !res.ShouldEscalate || res.Reason != "no_results_found" {
		t.Errorf("expected no_results_found escalation, got %+v", res)
	}
}

func TestDecideLowConfidence(t *testing.T) {
	e := New(&fakeProvider{reply: "No"}, "model", 0.7)
	res := e.Decide(context.Background(), "some query", []types.KBChunk{{ID: "1"}}, 0.5, nil)
	if !res.ShouldEscalate || res.Reason != "low_confidence" {
		t.Errorf("expected low_confidence escalation, got %+v", res)
	}
}

func TestDecideExactlyAtFloorNotEscalated(t *testing.T) {
	e := New(&fakeProvider{reply: "No"}, "model", 0.7)
	res := e.Decide(context.Background(), "some query", []types.KBChunk{{ID: "1"}}, 0.7, nil)
	if res.ShouldEscalate {
		t.Errorf("confidence exactly at floor should not escalate, got %+v", res)
	}
}

func TestDecideNoEscalation(t *testing.T) {
	e := New(&fakeProvider{reply: "No"}, "model", 0.7)
	res := e.Decide(context.Background(), "some query", []types.KBChunk{{ID: "1"}}, 0.95, nil)
	if res.ShouldEscalate || res.Reason != "none" {
		t.Errorf("expected no escalation, got %+v", res)
	}
}

// historyAwareProvider only answers "Yes" when the prompt it receives
// actually contains the prior turn's ticket offer, so the test fails if
// Decide stops threading recentTurns into the detection prompt.
type historyAwareProvider struct{ sawOffer bool }

func (p *historyAwareProvider) Chat(_ context.Context, msgs []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	for _, m := range msgs {
		if strings.Contains(m.Content, "create a support ticket") {
			return llm.Message{Content: "Yes"}, nil
		}
	}
	return llm.Message{Content: "No"}, nil
}

func (p *historyAwareProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, _ llm.StreamHandler) error {
	return nil
}

func TestDecideUserRequestedFromBareConfirmationAfterTicketOffer(t *testing.T) {
	e := New(&historyAwareProvider{}, "model", 0.7)
	history := []types.Turn{
		{Query: "my portal login is broken", Response: "Would you like me to create a support ticket so our team can help you further?"},
	}

	withoutHistory := e.Decide(context.Background(), "yes", []types.KBChunk{{ID: "1"}}, 0.95, nil)
	if withoutHistory.ShouldEscalate {
		t.Errorf("expected no escalation for a bare 'yes' with no prior context, got %+v", withoutHistory)
	}

	withHistory := e.Decide(context.Background(), "yes", []types.KBChunk{{ID: "1"}}, 0.95, history)
	if !withHistory.ShouldEscalate || withHistory.Reason != "user_requested" {
		t.Errorf("expected user_requested escalation once the ticket-offer turn is in context, got %+v", withHistory)
	}
}

func TestShapeVariants(t *testing.T) {
	if got := Shape("answer", types.EscalationResult{Reason: "none"}); got != "answer" {
		t.Errorf("expected passthrough, got %q", got)
	}
	if got := Shape("answer", types.EscalationResult{Reason: "no_results_found"}); got == "answer" {
		t.Errorf("expected ticket-offer suffix appended")
	}
	if got := Shape("answer", types.EscalationResult{Reason: "low_confidence"}); got == "answer" {
		t.Errorf("expected ask-if-helps suffix appended")
	}
	if got := Shape("answer", types.EscalationResult{Reason: "user_requested"}); got != handoffMessage {
		t.Errorf("expected fixed handoff message, got %q", got)
	}
}
