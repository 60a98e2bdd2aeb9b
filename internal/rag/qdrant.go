package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored alongside each Qdrant point.
const (
	payloadChunkID    = "chunk_id"
	payloadMaterialID = "material_id"
	payloadCourseID   = "course_id"
	payloadIndex      = "index"
	payloadContent    = "content"
	payloadTitle      = "title"
	payloadKind       = "kind"
)

// chunkNamespace seeds the name-based UUIDs Qdrant requires as point IDs.
var chunkNamespace = uuid.MustParse("6f1c4c1e-2b3a-4f55-9a57-3c2d8e0b7a41")

// pointID maps a chunk ID onto a stable UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its payload indexes exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "course_chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// ensureCollection creates the collection and keyword indexes on the
// course and material payload fields if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	for _, field := range []string{payloadCourseID, payloadMaterialID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index %q: %w", field, err)
		}
	}
	return nil
}

// Upsert stores chunks as points keyed by pointID(chunk.ID).
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadChunkID:    c.ID,
				payloadMaterialID: c.MaterialID,
				payloadCourseID:   c.CourseID,
				payloadIndex:      int64(c.Index),
				payloadContent:    c.Content,
				payloadTitle:      c.Title,
				payloadKind:       c.Kind,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

const (
	// qdrantTieSlack is how many candidates past k are fetched so that equal
	// scores at the cut are ordered by chunk ID rather than by Qdrant.
	qdrantTieSlack = 8
	// qdrantTieLimit bounds the refetch when the tie runs past the window.
	qdrantTieLimit = 1024
)

// Query runs a cosine search restricted to courseID by a payload filter.
// Candidates beyond k are fetched and ranked locally; when the k-th score
// ties with the last candidate, every point at or above that score is
// fetched again so the tie is broken by ascending chunk ID.
func (s *QdrantStore) Query(ctx context.Context, courseID string, vec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	limit := uint64(k) + qdrantTieSlack //nolint:gosec // k > 0
	out, full, err := s.search(ctx, courseID, vec, limit, nil)
	if err != nil {
		return nil, err
	}
	sortScored(out)
	if tieAtCut(out, k, full) {
		edge := out[k-1].Score
		if out, _, err = s.search(ctx, courseID, vec, max(limit, qdrantTieLimit), &edge); err != nil {
			return nil, err
		}
	}
	return topK(out, k), nil
}

// search fetches up to limit points of courseID, optionally at or above
// threshold. full reports whether Qdrant returned the whole limit.
func (s *QdrantStore) search(ctx context.Context, courseID string, vec []float32, limit uint64, threshold *float32) ([]ScoredChunk, bool, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadCourseID, courseID)},
		},
		Limit:          qdrant.PtrOf(limit),
		ScoreThreshold: threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		sc := ScoredChunk{Score: r.GetScore()}
		sc.ID = p[payloadChunkID].GetStringValue()
		sc.MaterialID = p[payloadMaterialID].GetStringValue()
		sc.CourseID = p[payloadCourseID].GetStringValue()
		sc.Index = int(p[payloadIndex].GetIntegerValue())
		sc.Content = p[payloadContent].GetStringValue()
		sc.Title = p[payloadTitle].GetStringValue()
		sc.Kind = p[payloadKind].GetStringValue()
		if sc.CourseID != courseID {
			continue
		}
		out = append(out, sc)
	}
	return out, uint64(len(results)) == limit, nil
}

// DeleteByMaterial removes every point whose material_id matches.
func (s *QdrantStore) DeleteByMaterial(ctx context.Context, materialID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadMaterialID, materialID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping checks that the collection is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.CollectionExists(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: ping: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
