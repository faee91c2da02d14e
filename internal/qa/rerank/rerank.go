// Package rerank implements the heuristic post-retrieval reordering
// described in spec §4.6. Grounded on the scoring formula in
// original_source/src/query/reranker.py and structured the way the
// teacher's internal/rag/retrieve package shapes its Reranker interface
// (a single Rerank method, with a Noop fallback for disabled/degraded use).
package rerank

import (
	"regexp"
	"strings"

	"manifold/internal/qa/classify"
	"manifold/internal/qa/types"
)

const defaultMaxResults = 3

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"but": {}, "and": {}, "or": {},
}

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

var troubleshootPattern = regexp.MustCompile(`\b(fix|solve|troubleshoot)\b`)

// Reranker reorders hits by a heuristic relevance score.
type Reranker interface {
	Rerank(query string, tag classify.Tag, hits []types.KBChunk, maxResults int) []types.KBChunk
}

// HeuristicReranker is the default scoring implementation.
type HeuristicReranker struct{}

// New returns the default heuristic reranker.
func New() *HeuristicReranker { return &HeuristicReranker{} }

// Rerank scores, sorts descending, and truncates to maxResults (falling
// back to defaultMaxResults when <= 0). On any internal panic, the
// original order is returned truncated to maxResults, matching spec §4.6's
// "on exception, return the first max_results of the input unchanged."
// Score is overwritten with the boosted ordering value; RawScore preserves
// the vector-similarity score each hit arrived with, since the original's
// similarity_score/rerank_score split means confidence reporting and the
// escalation floor must never see the post-boost number.
func (r *HeuristicReranker) Rerank(query string, tag classify.Tag, hits []types.KBChunk, maxResults int) (result []types.KBChunk) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	defer func() {
		if recover() != nil {
			result = truncate(hits, maxResults)
		}
	}()

	keywords := extractKeywords(query)
	bigrams := extractBigrams(keywords)

	scored := make([]types.KBChunk, len(hits))
	copy(scored, hits)
	for i := range scored {
		scored[i].RawScore = scored[i].Score
		scored[i].Score = score(scored[i], query, tag, keywords, bigrams)
	}

	sortDescByScore(scored)
	return truncate(scored, maxResults)
}

func score(c types.KBChunk, query string, tag classify.Tag, keywords []string, bigrams []string) float64 {
	base := c.Score
	boost := 0.0

	entryType := c.Metadata["entryType"]
	if entryType != "" && tagMatchesEntryType(tag, entryType) {
		boost += 0.20
	}

	if tag == "error" && troubleshootPattern.MatchString(strings.ToLower(c.Text)) {
		boost += 0.15
	}

	if len(keywords) > 0 {
		contentMatches := countMatches(strings.ToLower(c.Text), keywords)
		boost += 0.10 * (float64(contentMatches) / float64(len(keywords)))

		titleMatches := countMatches(strings.ToLower(c.Source), keywords)
		boost += 0.15 * (float64(titleMatches) / float64(len(keywords)))
	}

	if len(bigrams) > 0 {
		contentBigrams := extractBigrams(extractKeywords(c.Text))
		matchCount := countBigramMatches(bigrams, contentBigrams)
		boost += 0.10 * float64(matchCount)
	}

	wordCount := len(wordPattern.FindAllString(strings.ToLower(c.Text), -1))
	if wordCount < 100 {
		boost += 0.05
	} else if wordCount > 500 {
		boost -= 0.05
	}

	final := base + boost
	if final < 0 {
		final = 0
	}
	if final > 1 {
		final = 1
	}
	return final
}

func tagMatchesEntryType(tag classify.Tag, entryType string) bool {
	switch tag {
	case classify.TagHowTo:
		return entryType == "how_to"
	case classify.TagError:
		return entryType == "error"
	case classify.TagDefinition:
		return entryType == "definition"
	case classify.TagWorkflow:
		return entryType == "workflow"
	default:
		return false
	}
}

func extractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func extractBigrams(keywords []string) []string {
	if len(keywords) < 2 {
		return nil
	}
	out := make([]string, 0, len(keywords)-1)
	for i := 0; i < len(keywords)-1; i++ {
		out = append(out, keywords[i]+" "+keywords[i+1])
	}
	return out
}

func countMatches(haystack string, keywords []string) int {
	count := 0
	for _, k := range keywords {
		if strings.Contains(haystack, k) {
			count++
		}
	}
	return count
}

func countBigramMatches(queryBigrams, contentBigrams []string) int {
	set := make(map[string]struct{}, len(contentBigrams))
	for _, b := range contentBigrams {
		set[b] = struct{}{}
	}
	count := 0
	for _, b := range queryBigrams {
		if _, ok := set[b]; ok {
			count++
		}
	}
	return count
}

func sortDescByScore(hits []types.KBChunk) {
	// Stable insertion sort: result sets are small (single-digit to
	// low-hundreds), and stability preserves original relative order for
	// ties, which a generic sort.Slice would not guarantee.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && hits[j-1].Score < hits[j].Score {
			hits[j-1], hits[j] = hits[j], hits[j-1]
			j--
		}
	}
}

func truncate(hits []types.KBChunk, max int) []types.KBChunk {
	if max <= 0 || max >= len(hits) {
		out := make([]types.KBChunk, len(hits))
		copy(out, hits)
		return out
	}
	out := make([]types.KBChunk, max)
	copy(out, hits[:max])
	return out
}
