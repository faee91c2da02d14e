package vectorstore

import (
	"context"
	"sort"
	"strings"

	"manifold/internal/qa/types"
)

// MemoryStore is a deterministic in-process Store used by tests across
// the qa packages (search, parent reconstruction, orchestrator) so they
// can exercise filtering and threshold behaviour without a live Qdrant
// instance, mirroring the teacher's pattern of pairing every pluggable
// backend (internal/rag/embedder's deterministicEmbedder, databases'
// in-memory FTS) with an in-memory test double of the same interface.
type MemoryStore struct {
	chunks []types.KBChunk
	// vectors maps chunk ID to the vector it was upserted with, so
	// SimilaritySearch can compute a real cosine similarity against the
	// query vector instead of returning a fixed score.
	vectors map[string][]float32
}

// NewMemoryStore seeds a store with chunks and their vectors.
func NewMemoryStore(chunks []types.KBChunk, vectors map[string][]float32) *MemoryStore {
	return &MemoryStore{chunks: chunks, vectors: vectors}
}

func (m *MemoryStore) Upsert(_ context.Context, chunk types.KBChunk, vector []float32) error {
	m.chunks = append(m.chunks, chunk)
	if m.vectors == nil {
		m.vectors = make(map[string][]float32)
	}
	m.vectors[chunk.ID] = vector
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SimilaritySearch(_ context.Context, vector []float32, k int, threshold float64, filter SearchFilter) ([]types.KBChunk, error) {
	type scored struct {
		chunk types.KBChunk
		score float64
	}
	var candidates []scored
	for _, c := range m.chunks {
		if filter.EntryType != "" && c.Metadata["entryType"] != filter.EntryType {
			continue
		}
		if filter.ParentID != "" && c.ParentID != filter.ParentID {
			continue
		}
		if filter.UserClassTag != "" && c.Metadata["userClassTag"] != filter.UserClassTag {
			continue
		}
		if filter.ParentTitle != "" && !strings.Contains(strings.ToLower(c.Source), strings.ToLower(filter.ParentTitle)) {
			continue
		}
		score := cosineSimilarity(vector, m.vectors[c.ID])
		if score < threshold {
			continue
		}
		cc := c
		cc.Score = score
		candidates = append(candidates, scored{chunk: cc, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}
	out := make([]types.KBChunk, len(candidates))
	for i, c := range candidates {
		out[i] = c.chunk
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
