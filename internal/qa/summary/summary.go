// Package summary implements the Rolling Summariser (C12, spec §4.10):
// periodic condensation of conversation history into a compact JSON
// summary, invoked by the Session Manager every N messages. Grounded on
// internal/agent/memory/manager.go's Manager/Config shape, generalized to
// the {summary, current_topic, conversation_state, key_facts} contract
// spec §3/§4.10 define.
package summary

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"manifold/internal/llm"
	"manifold/internal/qa/types"
)

// State is the rolling-summary state tag (spec §3).
type State string

const (
	StateExploring      State = "exploring"
	StateTroubleshooting State = "troubleshooting"
	StateCompleting     State = "completing"
)

const systemPrompt = `You maintain a rolling summary of a support conversation. Given the previous summary (if any) and the newest messages, produce a single JSON object with exactly these fields: summary (string narrative), current_topic (string), conversation_state (one of "exploring", "troubleshooting", "completing"), key_facts (array of short strings). Respond with JSON only.`

// Summariser drives the condensation LLM call.
type Summariser struct {
	provider llm.Provider
	model    string
}

// New constructs a Summariser.
func New(provider llm.Provider, model string) *Summariser {
	return &Summariser{provider: provider, model: model}
}

type llmSummaryPayload struct {
	Summary           string   `json:"summary"`
	CurrentTopic      string   `json:"current_topic"`
	ConversationState string   `json:"conversation_state"`
	KeyFacts          []string `json:"key_facts"`
}

// Summarize feeds the previous summary plus the newest turns to the
// model and returns the new RollingSummary. On any failure (call error or
// unparseable output), the previous summary is returned unchanged — the
// caller (Session Manager) still resets its counter regardless, per spec
// §4.10 ("parse errors leave the previous summary in place; the counter
// still resets to avoid tight retry loops").
func (s *Summariser) Summarize(ctx context.Context, previous types.RollingSummary, newest []types.Turn) types.RollingSummary {
	userContent := buildUserContent(previous, newest)
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
	resp, err := s.provider.Chat(ctx, msgs, nil, s.model)
	if err != nil {
		return previous
	}

	payload, parseErr := parsePayload(resp.Content)
	if parseErr != nil {
		return previous
	}

	text := payload.Summary
	if payload.CurrentTopic != "" {
		text = "[" + payload.CurrentTopic + "] " + text
	}
	return types.RollingSummary{
		Text:        text,
		TurnsCount:  previous.TurnsCount + len(newest),
		LastUpdated: now(),
	}
}

// now is a seam so tests can avoid depending on wall-clock time beyond
// "it advanced".
var now = time.Now

func buildUserContent(previous types.RollingSummary, newest []types.Turn) string {
	var b strings.Builder
	if previous.Text != "" {
		b.WriteString("Previous summary: ")
		b.WriteString(previous.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Newest messages:\n")
	for _, t := range newest {
		b.WriteString("User: ")
		b.WriteString(t.Query)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Response)
		b.WriteString("\n")
	}
	return b.String()
}

func parsePayload(raw string) (llmSummaryPayload, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return llmSummaryPayload{}, errNoJSON
	}
	var p llmSummaryPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &p); err != nil {
		return llmSummaryPayload{}, err
	}
	return p, nil
}

type summaryError string

func (e summaryError) Error() string { return string(e) }

const errNoJSON = summaryError("no JSON object found in summariser response")
