package vectorstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"manifold/internal/config"
)

// Embedder turns text into a dense vector. Spec §4.4 requires the
// embedding to be computed at most once per query; callers (Search
// Strategy) are responsible for caching the returned vector across
// fallback attempts, not this type.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// OpenAIEmbedder wraps the openai-go/v2 SDK client, constructed the same
// way internal/llm/openai.Client wraps its chat SDK client (API-key and
// base-URL request options, shared *http.Client).
type OpenAIEmbedder struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIEmbedder constructs an embedder from OpenAIConfig.
func NewOpenAIEmbedder(cfg config.OpenAIConfig, httpClient *http.Client) *OpenAIEmbedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.EmbeddingModel)
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		sdk:   sdk.NewClient(opts...),
		model: model,
	}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed calls the embeddings endpoint for a single input string and
// returns the first (only) resulting vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{text},
		},
		Model:          e.model,
		EncodingFormat: sdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// DeterministicEmbedder is a test/offline double: a stable hash-based
// vector generator, grounded on internal/rag/embedder's
// deterministicEmbedder (FNV-hash trigram hashing), generalized to a
// configurable dimension so tests can exercise the Qdrant dimension
// validation path too.
type DeterministicEmbedder struct {
	dimension int
	model     string
}

// NewDeterministicEmbedder returns a hash-based embedder for tests.
func NewDeterministicEmbedder(dimension int) *DeterministicEmbedder {
	if dimension <= 0 {
		dimension = 16
	}
	return &DeterministicEmbedder{dimension: dimension, model: "deterministic-test"}
}

func (d *DeterministicEmbedder) Model() string { return d.model }

func (d *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dimension)
	if strings.TrimSpace(text) == "" {
		return vec, nil
	}
	runes := []rune(strings.ToLower(text))
	for i := 0; i < len(runes)-2; i++ {
		trigram := string(runes[i : i+3])
		h := fnv32(trigram)
		vec[int(h)%d.dimension] += 1
	}
	norm := float32(0)
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1)
	if norm > 0 {
		scale = 1 / sqrt32(norm)
	}
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
