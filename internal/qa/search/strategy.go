// Package search implements the multi-stage fallback search (C7, spec
// §4.4) and parent-document reconstruction (C8, spec §4.5). Grounded on
// original_source/src/agent/search/search_strategy.py for the fallback
// ladder and embedding-reuse discipline, and structured the way the
// teacher's internal/rag/service.Service times and logs each retrieval
// stage.
package search

import (
	"context"
	"strings"
	"time"

	"manifold/internal/qa/classify"
	"manifold/internal/qa/types"
	"manifold/internal/qa/vectorstore"
)

// Options tunes one Strategy instance; defaults match spec §6's
// enumerated configuration.
type Options struct {
	Threshold float64 // similarity floor, default 0.5
	TopK      int     // cap applied after threshold filtering, default 3
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 0.5
	}
	if o.TopK <= 0 {
		o.TopK = 3
	}
	return o
}

// Strategy runs the progressive fallback search.
type Strategy struct {
	store    vectorstore.Store
	embedder vectorstore.Embedder
	opts     Options
}

// New constructs a Strategy.
func New(store vectorstore.Store, embedder vectorstore.Embedder, opts Options) *Strategy {
	return &Strategy{store: store, embedder: embedder, opts: opts.withDefaults()}
}

// Result is what Search returns: the final hit list, a log of every
// fallback attempt tried, and the embedding computed for the query (so
// Parent Reconstruction can reuse it without a second embedding call).
type Result struct {
	Hits      []types.KBChunk
	Attempts  []types.SearchAttempt
	Embedding []float32
}

// Request carries the routing-dependent inputs to Search.
type Request struct {
	Query          string
	Tag            classify.Tag
	UserClassTag   string // optional user-class filter
	RelatedDocName string // set only for search_kb_targeted routing
}

// Search runs the embed-once, fallback-many search ladder described in
// spec §4.4.
func (s *Strategy) Search(ctx context.Context, req Request) (Result, error) {
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Result{}, err
	}
	result := Result{Embedding: vec}

	baseFilter := vectorstore.SearchFilter{
		UserClassTag: req.UserClassTag,
		ParentTitle:  req.RelatedDocName,
	}

	// 1. Primary: entry-type filter by classifier tag, unless "general".
	primaryFilter := baseFilter
	appliedTagFilter := req.Tag != classify.TagGeneral
	if appliedTagFilter {
		primaryFilter.EntryType = tagToEntryType(req.Tag)
	}
	hits, attempt := s.attempt(ctx, "primary", vec, primaryFilter)
	result.Attempts = append(result.Attempts, attempt)
	if len(hits) > 0 {
		result.Hits = hits
		return result, nil
	}

	// 2. Parent-less fallback: drop the entry-type filter.
	if appliedTagFilter {
		fallbackFilter := baseFilter
		hits, attempt = s.attempt(ctx, "parent_less", vec, fallbackFilter)
		result.Attempts = append(result.Attempts, attempt)
		if len(hits) > 0 {
			result.Hits = hits
			return result, nil
		}
	}

	// 3. Type-cross fallback: howto -> error.
	if req.Tag == classify.TagHowTo {
		crossFilter := baseFilter
		crossFilter.EntryType = "error"
		hits, attempt = s.attempt(ctx, "type_cross", vec, crossFilter)
		result.Attempts = append(result.Attempts, attempt)
		if len(hits) > 0 {
			result.Hits = hits
			return result, nil
		}
	}

	// 4. Keyword-cross fallback: definition + "error" in text -> error.
	if req.Tag == classify.TagDefinition && strings.Contains(strings.ToLower(req.Query), "error") {
		keywordFilter := baseFilter
		keywordFilter.EntryType = "error"
		hits, attempt = s.attempt(ctx, "keyword_cross", vec, keywordFilter)
		result.Attempts = append(result.Attempts, attempt)
		if len(hits) > 0 {
			result.Hits = hits
			return result, nil
		}
	}

	result.Hits = nil
	return result, nil
}

func (s *Strategy) attempt(ctx context.Context, stage string, vec []float32, filter vectorstore.SearchFilter) ([]types.KBChunk, types.SearchAttempt) {
	start := time.Now()
	hits, err := s.store.SimilaritySearch(ctx, vec, s.opts.TopK, s.opts.Threshold, filter)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		// Vector search failure is treated as an empty result at this
		// layer (spec §7); the caller's fallback chain and, eventually,
		// the escalation engine handle the empty-hit-list case.
		return nil, types.SearchAttempt{Stage: stage, ResultCount: 0, DurationMs: elapsed}
	}
	if len(hits) > s.opts.TopK {
		hits = hits[:s.opts.TopK]
	}
	top := 0.0
	if len(hits) > 0 {
		top = hits[0].Score
	}
	return hits, types.SearchAttempt{Stage: stage, ResultCount: len(hits), TopScore: top, DurationMs: elapsed}
}

func tagToEntryType(tag classify.Tag) string {
	switch tag {
	case classify.TagHowTo:
		return "how_to"
	case classify.TagError:
		return "error"
	case classify.TagDefinition:
		return "definition"
	case classify.TagWorkflow:
		return "workflow"
	default:
		return ""
	}
}
