package cost

import "testing"

func TestEstimateEmbeddingTokens(t *testing.T) {
	if got := EstimateEmbeddingTokens("abcd"); got != 1 {
		t.Errorf("EstimateEmbeddingTokens = %d, want 1", got)
	}
	if got := EstimateEmbeddingTokens(""); got != 0 {
		t.Errorf("EstimateEmbeddingTokens(empty) = %d, want 0", got)
	}
}

func TestMeterSnapshotSumsToTotal(t *testing.T) {
	m := New(DefaultPriceTable())
	m.RecordEmbedding("s1", "text-embedding-3-small", 100)
	m.RecordChat("s1", OpQueryIntelligence, "claude-3-7-sonnet-latest", 500, 50)
	m.RecordChat("s1", OpResponseGeneration, "claude-3-7-sonnet-latest", 800, 200)

	b := m.Snapshot("s1")
	sum := round6(b.EmbeddingCostUSD + b.IntelligenceCostUSD + b.ResponseCostUSD)
	if sum != b.TotalCostUSD {
		t.Errorf("total %v != sum of parts %v", b.TotalCostUSD, sum)
	}
	if b.EmbeddingPromptTokens != 100 {
		t.Errorf("embedding tokens = %d, want 100", b.EmbeddingPromptTokens)
	}
}

func TestMeterClear(t *testing.T) {
	m := New(DefaultPriceTable())
	m.RecordEmbedding("s1", "default", 10)
	m.Clear("s1")
	b := m.Snapshot("s1")
	if b.TotalCostUSD != 0 {
		t.Errorf("expected zeroed breakdown after Clear, got %+v", b)
	}
}

func TestPriceForUnknownModelFallsBackToDefault(t *testing.T) {
	table := DefaultPriceTable()
	p := table.priceFor("some-unlisted-model")
	if p != table.Models["default"] {
		t.Errorf("expected default price for unknown model")
	}
}

func TestLoadPriceTableMissingFileFallsBackToDefault(t *testing.T) {
	table, err := LoadPriceTable("/nonexistent/path/model_pricing.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := table.Models["default"]; !ok {
		t.Errorf("expected default entry in fallback price table")
	}
}
