// Package cost implements the token/cost meter (spec §4.8): per-session,
// per-operation token and currency accounting backed by a static
// per-model price table. Grounded on
// original_source/src/analytics/tracking/cost_calculator.py (YAML price
// table with a "default" fallback entry, 8-decimal rounding for
// aggregation) re-expressed as explicit Go types loaded via yaml.v3,
// matching the teacher's config-loading convention elsewhere in the repo.
package cost

import (
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Operation names the three chargeable call sites spec §4.8 enumerates.
type Operation string

const (
	OpEmbedding        Operation = "embedding"
	OpQueryIntelligence Operation = "query_intelligence"
	OpResponseGeneration Operation = "response_generation"
)

// ModelPrice is the per-1M-token price for one model.
type ModelPrice struct {
	PromptPerMillion     float64 `yaml:"prompt_per_million"`
	CompletionPerMillion float64 `yaml:"completion_per_million"`
}

// PriceTable is a static, read-only-after-load map of model name to price,
// with a "default" entry used when a model isn't listed.
type PriceTable struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// DefaultPriceTable is used when no pricing file is configured or the file
// is missing; it mirrors the original's built-in fallback constants.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]ModelPrice{
			"default": {PromptPerMillion: 3.00, CompletionPerMillion: 15.00},
			"text-embedding-3-small": {PromptPerMillion: 0.02, CompletionPerMillion: 0},
			"claude-3-7-sonnet-latest": {PromptPerMillion: 3.00, CompletionPerMillion: 15.00},
			"gpt-4o-mini": {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
		},
	}
}

// LoadPriceTable reads a YAML price table from path, falling back to
// DefaultPriceTable when the file does not exist.
func LoadPriceTable(path string) (PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPriceTable(), nil
		}
		return PriceTable{}, err
	}
	var t PriceTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return PriceTable{}, err
	}
	if t.Models == nil {
		t.Models = DefaultPriceTable().Models
	}
	if _, ok := t.Models["default"]; !ok {
		t.Models["default"] = DefaultPriceTable().Models["default"]
	}
	return t, nil
}

func (t PriceTable) priceFor(model string) ModelPrice {
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.Models["default"]
}

// usage is one recorded charge.
type usage struct {
	operation        Operation
	model            string
	promptTokens     int
	completionTokens int
}

// Meter accumulates per-session usage and converts it to a CostBreakdown
// on demand. A Meter is safe for concurrent use across sessions; callers
// are still expected to serialize access per session the same way they
// serialize turn appends (spec §5), since RecordUsage mutates shared
// per-session state.
type Meter struct {
	mu     sync.Mutex
	prices PriceTable
	bySession map[string][]usage
}

// New constructs a Meter backed by the given price table.
func New(prices PriceTable) *Meter {
	return &Meter{prices: prices, bySession: make(map[string][]usage)}
}

// RecordChat records a chat-completion usage (query_intelligence or
// response_generation) for a session.
func (m *Meter) RecordChat(sessionID string, op Operation, model string, promptTokens, completionTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySession[sessionID] = append(m.bySession[sessionID], usage{
		operation: op, model: model, promptTokens: promptTokens, completionTokens: completionTokens,
	})
}

// RecordEmbedding records an embedding call; tokens are estimated by
// callers as floor(len(text)/4) per spec §4.8.
func (m *Meter) RecordEmbedding(sessionID string, model string, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySession[sessionID] = append(m.bySession[sessionID], usage{
		operation: OpEmbedding, model: model, promptTokens: tokens,
	})
}

// EstimateEmbeddingTokens implements the floor(len(text)/4) heuristic
// spec §4.8 specifies for embedding calls.
func EstimateEmbeddingTokens(text string) int {
	return len(text) / 4
}

// Breakdown is the per-call-site cost accounting for one session.
type Breakdown struct {
	EmbeddingPromptTokens int
	EmbeddingCostUSD      float64
	IntelligencePromptTokens int
	IntelligenceCompletionTokens int
	IntelligenceCostUSD   float64
	ResponsePromptTokens  int
	ResponseCompletionTokens int
	ResponseCostUSD       float64
	TotalCostUSD          float64
}

// round8 matches the original's 8-decimal aggregation rounding.
func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// round6 matches the original's 6-decimal display rounding.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Snapshot produces a CostBreakdown for the session without clearing it.
func (m *Meter) Snapshot(sessionID string) Breakdown {
	m.mu.Lock()
	entries := append([]usage(nil), m.bySession[sessionID]...)
	m.mu.Unlock()

	var b Breakdown
	for _, e := range entries {
		price := m.prices.priceFor(e.model)
		switch e.operation {
		case OpEmbedding:
			b.EmbeddingPromptTokens += e.promptTokens
			b.EmbeddingCostUSD = round8(b.EmbeddingCostUSD + float64(e.promptTokens)*price.PromptPerMillion/1_000_000)
		case OpQueryIntelligence:
			b.IntelligencePromptTokens += e.promptTokens
			b.IntelligenceCompletionTokens += e.completionTokens
			cost := float64(e.promptTokens)*price.PromptPerMillion/1_000_000 + float64(e.completionTokens)*price.CompletionPerMillion/1_000_000
			b.IntelligenceCostUSD = round8(b.IntelligenceCostUSD + cost)
		case OpResponseGeneration:
			b.ResponsePromptTokens += e.promptTokens
			b.ResponseCompletionTokens += e.completionTokens
			cost := float64(e.promptTokens)*price.PromptPerMillion/1_000_000 + float64(e.completionTokens)*price.CompletionPerMillion/1_000_000
			b.ResponseCostUSD = round8(b.ResponseCostUSD + cost)
		}
	}
	b.TotalCostUSD = round6(b.EmbeddingCostUSD + b.IntelligenceCostUSD + b.ResponseCostUSD)
	return b
}

// Clear drops all recorded usage for a session; called after the
// end-of-session batch write lands.
func (m *Meter) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bySession, sessionID)
}
