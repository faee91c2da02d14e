// Package escalate implements the Escalation Engine (C11, spec §4.9).
// Grounded on original_source/src/agent/escalation/escalation_handler.py
// for the four-branch decision tree and the exact response-shaping
// strings.
package escalate

import (
	"context"
	"strings"

	"manifold/internal/llm"
	"manifold/internal/qa/types"
)

const defaultConfidenceFloor = 0.7

// maxHistoryTurns bounds how much prior conversation is fed into the
// escalation-request detector, matching the original's last-3-messages
// window (escalation_handler.py's detection prompt).
const maxHistoryTurns = 3

const detectPrompt = `Does the following user message explicitly ask to speak with, or be transferred to, a human support agent? A bare confirmation like "yes" immediately after the assistant offered to open a support ticket also counts. Answer with exactly one word: Yes or No.`

const ticketOfferSuffix = "\n\nWould you like me to create a support ticket so our team can help you further?"

const askIfHelpsSuffix = "\n\nDoes this help, or would you like me to create a support ticket for further assistance?"

const handoffMessage = "I'll connect you with a member of our support team who can help you directly. I'm creating a ticket now so someone can follow up with you shortly."

// Engine decides whether to escalate and shapes the final response text.
type Engine struct {
	provider        llm.Provider
	model           string
	confidenceFloor float64
}

// New constructs an Engine. confidenceFloor defaults to 0.7 (spec §4.9)
// when <= 0.
func New(provider llm.Provider, model string, confidenceFloor float64) *Engine {
	if confidenceFloor <= 0 {
		confidenceFloor = defaultConfidenceFloor
	}
	return &Engine{provider: provider, model: model, confidenceFloor: confidenceFloor}
}

// Decide implements the decision tree from spec §4.9. recentTurns is the
// session's recent turn log (newest-first), fed into the escalation-request
// detector so a bare "yes" following a ticket offer is recognized.
func (e *Engine) Decide(ctx context.Context, query string, hits []types.KBChunk, bestConfidence float64, recentTurns []types.Turn) types.EscalationResult {
	if e.detectEscalationRequest(ctx, query, recentTurns) {
		return types.EscalationResult{ShouldEscalate: true, Reason: "user_requested"}
	}
	if len(hits) == 0 {
		return types.EscalationResult{ShouldEscalate: true, Reason: "no_results_found"}
	}
	// Exactly-at-floor is NOT escalated (spec §8 boundary behaviour).
	if bestConfidence < e.confidenceFloor {
		return types.EscalationResult{ShouldEscalate: true, Reason: "low_confidence"}
	}
	return types.EscalationResult{ShouldEscalate: false, Reason: "none"}
}

// Shape rewrites or augments the generated answer according to the
// escalation reason, per spec §4.9's response-shaping table.
func Shape(answer string, result types.EscalationResult) string {
	switch result.Reason {
	case "user_requested":
		return handoffMessage
	case "no_results_found":
		return answer + ticketOfferSuffix
	case "low_confidence":
		return answer + askIfHelpsSuffix
	default:
		return answer
	}
}

func (e *Engine) detectEscalationRequest(ctx context.Context, query string, recentTurns []types.Turn) bool {
	var b strings.Builder
	b.WriteString(detectPrompt)
	if history := formatRecentHistory(recentTurns); history != "" {
		b.WriteString("\n\nRecent conversation:\n")
		b.WriteString(history)
	}
	b.WriteString("\nMessage: ")
	b.WriteString(query)

	msgs := []llm.Message{
		{Role: "user", Content: b.String()},
	}
	resp, err := e.provider.Chat(ctx, msgs, nil, e.model)
	if err != nil {
		// A detection failure is not itself escalatable; fall through to
		// the rest of the decision tree rather than failing the query.
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(answer, "yes")
}

// formatRecentHistory renders up to the last maxHistoryTurns turns
// (recentTurns is newest-first) oldest-first as "User:"/"Assistant:" lines.
func formatRecentHistory(recentTurns []types.Turn) string {
	if len(recentTurns) == 0 {
		return ""
	}
	n := len(recentTurns)
	if n > maxHistoryTurns {
		n = maxHistoryTurns
	}
	window := recentTurns[:n]
	var b strings.Builder
	for i := n - 1; i >= 0; i-- {
		t := window[i]
		if t.Query != "" {
			b.WriteString("User: ")
			b.WriteString(t.Query)
			b.WriteString("\n")
		}
		if t.Response != "" {
			b.WriteString("Assistant: ")
			b.WriteString(t.Response)
			b.WriteString("\n")
		}
	}
	return b.String()
}
