// Package vectorstore implements the embedding and vector-search half of
// C1: turning text into a dense vector and similarity-searching a remote
// vector store with metadata filters. The Qdrant-backed implementation is
// adapted directly from internal/persistence/databases/qdrant_vector.go
// (deterministic UUID point IDs via uuid.NewSHA1, original-id payload
// round-trip) generalized to carry the KB chunk metadata fields spec §3
// names instead of a bare map.
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"manifold/internal/qa/types"
)

// payloadIDField mirrors databases.PAYLOAD_ID_FIELD: Qdrant only accepts
// UUID or integer point IDs, so non-UUID chunk ids are derived
// deterministically and the original id is round-tripped through the
// payload.
const payloadIDField = "_original_id"

// SearchFilter narrows a similarity search the way Search Strategy (C7)
// needs: by entry type, by parent id (for parent refetches and
// search_kb_targeted routing), and by user-class tag.
type SearchFilter struct {
	EntryType     string
	ParentID      string
	ParentTitle   string // fuzzy, case-insensitive substring match
	UserClassTag  string
}

func (f SearchFilter) empty() bool {
	return f.EntryType == "" && f.ParentID == "" && f.ParentTitle == "" && f.UserClassTag == ""
}

// Store is the similarity-search surface Search Strategy and Parent
// Reconstruction depend on.
type Store interface {
	SimilaritySearch(ctx context.Context, vector []float32, k int, threshold float64, filter SearchFilter) ([]types.KBChunk, error)
	Upsert(ctx context.Context, chunk types.KBChunk, vector []float32) error
	Close() error
}

// QdrantStore is the production Store implementation.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantStore dials Qdrant's gRPC API (default port 6334) and ensures
// the configured collection exists, exactly as
// databases.NewQdrantVector does.
func NewQdrantStore(dsn, collection string, dimensions int, metric string) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &QdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch s.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	if s.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) (uuidStr string, remapped bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert writes a chunk's vector and KB metadata into the collection.
func (s *QdrantStore) Upsert(ctx context.Context, chunk types.KBChunk, vector []float32) error {
	pointID, remapped := pointIDFor(chunk.ID)
	payload := map[string]any{
		"parentId":   chunk.ParentID,
		"source":     chunk.Source,
		"text":       chunk.Text,
		"chunkIndex": chunk.ChunkIndex,
	}
	for k, v := range chunk.Metadata {
		payload[k] = v
	}
	if remapped {
		payload[payloadIDField] = chunk.ID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointID),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	return err
}

// SimilaritySearch issues a single vector search with the given filter,
// threshold, and k. Thresholding and top-K truncation beyond what Qdrant's
// Limit already applies is the caller's responsibility (Search Strategy
// applies the configured threshold floor after the call, per spec §4.4).
func (s *QdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int, threshold float64, filter SearchFilter) ([]types.KBChunk, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var qFilter *qdrant.Filter
	if !filter.empty() {
		must := make([]*qdrant.Condition, 0, 3)
		if filter.EntryType != "" {
			must = append(must, qdrant.NewMatch("entryType", filter.EntryType))
		}
		if filter.ParentID != "" {
			must = append(must, qdrant.NewMatch("parentId", filter.ParentID))
		}
		if filter.UserClassTag != "" {
			must = append(must, qdrant.NewMatch("userClassTag", filter.UserClassTag))
		}
		if len(must) > 0 {
			qFilter = &qdrant.Filter{Must: must}
		}
	}

	limit := uint64(k)
	var scoreThreshold *float32
	if threshold > 0 {
		t := float32(threshold)
		scoreThreshold = &t
	}
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qFilter,
		ScoreThreshold: scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]types.KBChunk, 0, len(hits))
	for _, hit := range hits {
		chunk := chunkFromPayload(hit.Payload)
		chunk.Score = float64(hit.Score)
		if chunk.ID == "" {
			if uid := hit.Id.GetUuid(); uid != "" {
				chunk.ID = uid
			} else {
				chunk.ID = hit.Id.String()
			}
		}
		if filter.ParentTitle != "" && !strings.Contains(strings.ToLower(chunk.Source), strings.ToLower(filter.ParentTitle)) {
			continue
		}
		results = append(results, chunk)
	}
	return results, nil
}

func chunkFromPayload(payload map[string]*qdrant.Value) types.KBChunk {
	chunk := types.KBChunk{Metadata: make(map[string]string)}
	if payload == nil {
		return chunk
	}
	for k, v := range payload {
		switch k {
		case payloadIDField:
			chunk.ID = v.GetStringValue()
		case "parentId":
			chunk.ParentID = v.GetStringValue()
		case "source":
			chunk.Source = v.GetStringValue()
		case "text":
			chunk.Text = v.GetStringValue()
		case "chunkIndex":
			chunk.ChunkIndex = int(v.GetIntegerValue())
		default:
			chunk.Metadata[k] = v.GetStringValue()
		}
	}
	return chunk
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Dimension returns the configured vector size.
func (s *QdrantStore) Dimension() int { return s.dimension }
