package search

import (
	"context"
	"regexp"
	"sort"
	"strconv"

	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

// comprehensivePatterns and specificPatterns implement the
// needs_full_context predicate from spec §4.5, grounded on
// original_source/src/agent/search/parent_retrieval.py's exact regex
// lists and short-circuit ordering (specific patterns win outright).
var comprehensivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^how\s+(do|can|should|would)\s+i\b`),
	regexp.MustCompile(`\b(all|entire|complete|full|whole)\b`),
	regexp.MustCompile(`\bstep\s+by\s+step\b`),
	regexp.MustCompile(`\bwalk\s+me\s+through\b`),
	regexp.MustCompile(`\bguide\b`),
	regexp.MustCompile(`\bprocess\b`),
	regexp.MustCompile(`\bprocedure\b`),
}

var specificPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bstep\s+\d+\b`),
	regexp.MustCompile(`\bwhat\s+(is|does|means?)\b`),
	regexp.MustCompile(`\berror\b`),
	regexp.MustCompile(`\bissue\b`),
	regexp.MustCompile(`\bproblem\b`),
	regexp.MustCompile(`\b(which|where|when)\b`),
}

// NeedsFullContext reports whether query should trigger parent-document
// expansion: it must match a comprehensive pattern and match none of the
// specific patterns, which short-circuit to false.
func NeedsFullContext(query string) bool {
	normalized := classifyNormalize(query)
	for _, re := range specificPatterns {
		if re.MatchString(normalized) {
			return false
		}
	}
	for _, re := range comprehensivePatterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// classifyNormalize avoids importing the classify package just for its
// Normalize helper's lower-casing behaviour; kept local and trivial.
func classifyNormalize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

const refetchBuffer = 5

// parentBufferKey is the metadata key chunks carry for their parent's
// total chunk count (spec §3's KB chunk "total chunks in parent" field).
const totalChunksKey = "totalChunks"

// ExpandParents implements Parent Reconstruction (C8, spec §4.5). When
// the query does not need full context, hits pass through unchanged.
// Otherwise every parent group with fewer matched chunks than its
// declared total gets exactly one refetch (threshold 0, k =
// total+refetchBuffer), reusing the cached query embedding; a refetch
// failure falls back to the chunks already matched for that parent only
// (spec §7), never aborting the whole expansion.
func ExpandParents(ctx context.Context, store vectorstore.Store, query string, embedding []float32, hits []types.KBChunk) []types.KBChunk {
	if !NeedsFullContext(query) {
		return hits
	}

	groups := make(map[string][]types.KBChunk)
	var standalone []types.KBChunk
	var order []string
	for _, h := range hits {
		if h.ParentID == "" {
			standalone = append(standalone, h)
			continue
		}
		if _, seen := groups[h.ParentID]; !seen {
			order = append(order, h.ParentID)
		}
		groups[h.ParentID] = append(groups[h.ParentID], h)
	}

	var expanded []types.KBChunk
	expanded = append(expanded, standalone...)

	for _, parentID := range order {
		group := groups[parentID]
		total := totalChunksFor(group)
		if total <= 0 || len(group) >= total {
			expanded = append(expanded, sortByChunkIndex(group)...)
			continue
		}
		refetched, err := store.SimilaritySearch(ctx, embedding, total+refetchBuffer, 0, vectorstore.SearchFilter{ParentID: parentID})
		if err != nil || len(refetched) == 0 {
			expanded = append(expanded, sortByChunkIndex(group)...)
			continue
		}
		expanded = append(expanded, sortByChunkIndex(refetched)...)
	}

	return dedupeByID(expanded)
}

func totalChunksFor(group []types.KBChunk) int {
	for _, c := range group {
		if v, ok := c.Metadata[totalChunksKey]; ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func sortByChunkIndex(chunks []types.KBChunk) []types.KBChunk {
	out := make([]types.KBChunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func dedupeByID(chunks []types.KBChunk) []types.KBChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]types.KBChunk, 0, len(chunks))
	for _, c := range chunks {
		key := c.ID
		if key == "" {
			key = c.ParentID + "#" + strconv.Itoa(c.ChunkIndex)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
