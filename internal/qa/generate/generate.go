// Package generate implements the Response Generator (C10, spec §4.7):
// the LLM call that produces the final user-visible answer with
// citations. Prompts are loaded from external YAML, matching spec §4.7's
// requirement and the teacher's convention of keeping prompt/config text
// out of source.
package generate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"manifold/internal/llm"
	"manifold/internal/qa/types"
)

// PromptSet holds the externally-loaded prompt templates. ResponseTemplate
// and FallbackTemplate are Go text templates with a single "{{context}}"
// / "{{query}}" substitution performed manually (kept intentionally
// simple — no text/template dependency — since the substitutions are
// fixed and few).
type PromptSet struct {
	System               string `yaml:"system"`
	ResponseTemplate     string `yaml:"response_template"`
	FallbackTemplate     string `yaml:"fallback_template"`
	ContextCheckTemplate string `yaml:"context_check_template"`
}

// LoadPromptSet reads the system and response prompt YAML files from dir
// (config/prompts by convention; see SPEC_FULL.md §4.7).
func LoadPromptSet(dir string) (PromptSet, error) {
	systemData, err := os.ReadFile(dir + "/system_prompt.yaml")
	if err != nil {
		return PromptSet{}, fmt.Errorf("read system prompt: %w", err)
	}
	responseData, err := os.ReadFile(dir + "/response_prompt.yaml")
	if err != nil {
		return PromptSet{}, fmt.Errorf("read response prompt: %w", err)
	}

	var ps PromptSet
	if err := yaml.Unmarshal(systemData, &ps); err != nil {
		return PromptSet{}, fmt.Errorf("parse system prompt: %w", err)
	}
	var responsePart PromptSet
	if err := yaml.Unmarshal(responseData, &responsePart); err != nil {
		return PromptSet{}, fmt.Errorf("parse response prompt: %w", err)
	}
	ps.ResponseTemplate = responsePart.ResponseTemplate
	ps.FallbackTemplate = responsePart.FallbackTemplate
	ps.ContextCheckTemplate = responsePart.ContextCheckTemplate
	return ps, nil
}

// Passage is one retrieved hit formatted for inline citation.
type Passage struct {
	Title      string
	EntryType  string
	Confidence float64
	Text       string
}

// Generator drives the response-generation LLM call.
type Generator struct {
	provider llm.Provider
	model    string
	prompts  PromptSet
}

// New constructs a Generator.
func New(provider llm.Provider, model string, prompts PromptSet) *Generator {
	return &Generator{provider: provider, model: model, prompts: prompts}
}

// Request carries the generation inputs (spec §4.7).
type Request struct {
	Query               string
	Passages            []Passage // empty for the answer_from_context branch
	ConversationContext string
}

// Result is the raw generated content plus the usage the cost meter
// needs.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Generate assembles the system/response prompts with the formatted
// passages and conversation context, invokes the chat model, and returns
// the raw content. An empty passages list proceeds with an empty
// passages block rather than switching to the fallback prompt, per spec
// §4.7 ("does not degrade to a fallback prompt unless explicitly invoked
// as such").
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	userContent := g.buildUserContent(req)
	msgs := []llm.Message{
		{Role: "system", Content: g.prompts.System},
		{Role: "user", Content: userContent},
	}
	resp, err := g.provider.Chat(ctx, msgs, nil, g.model)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: resp.Content}, nil
}

// GenerateFallback is the separate entry point spec §4.7 reserves for the
// canned-apology path (used by the orchestrator when Generate itself
// fails, per spec §7: "Response generator failure -> return a canned
// apology string").
func (g *Generator) GenerateFallback() string {
	if g.prompts.FallbackTemplate != "" {
		return g.prompts.FallbackTemplate
	}
	return "I'm sorry, I wasn't able to put together an answer just now. Could you try rephrasing your question, or I can connect you with a member of our team?"
}

func (g *Generator) buildUserContent(req Request) string {
	var b strings.Builder
	b.WriteString(g.prompts.ResponseTemplate)
	b.WriteString("\n\nConversation context:\n")
	if req.ConversationContext != "" {
		b.WriteString(req.ConversationContext)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n\nRetrieved passages:\n")
	if len(req.Passages) == 0 {
		b.WriteString("(none)")
	} else {
		for i, p := range req.Passages {
			fmt.Fprintf(&b, "[%d] %s (%s, confidence %.2f)\n%s\n", i+1, p.Title, p.EntryType, p.Confidence, p.Text)
		}
	}
	b.WriteString("\n\nQuery: ")
	b.WriteString(req.Query)
	return b.String()
}

// SyntheticContextSource is the source label the orchestrator attaches
// when routing=answer_from_context (spec §4.1 step 4).
const SyntheticContextSource = "Conversation Context"

// PassagesFromChunks adapts retrieved/reranked chunks into the Passage
// shape Generate expects.
func PassagesFromChunks(chunks []types.KBChunk) []Passage {
	out := make([]Passage, len(chunks))
	for i, c := range chunks {
		out[i] = Passage{
			Title:      c.Source,
			EntryType:  c.Metadata["entryType"],
			Confidence: c.Score,
			Text:       c.Text,
		}
	}
	return out
}
