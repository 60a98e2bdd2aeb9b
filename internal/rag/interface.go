// Package rag holds the chunk model, the course-scoped VectorStore contract
// and its backends (SQLite, Qdrant, pgvector), and the Retriever that couples
// query embedding to scoped search.
//
// Every VectorStore applies the course filter inside its own query. Callers
// never filter results themselves, so a caller that only controls the query
// text cannot widen the scope.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Chunk is a bounded segment of a material's text with its embedding.
type Chunk struct {
	// ID is ChunkID(MaterialID, Index).
	ID string
	// MaterialID is the owning material.
	MaterialID string
	// CourseID is denormalized from the material for scoped queries.
	CourseID string
	// Index is the ordinal position of the chunk within the material.
	Index int
	// Content is the chunk text.
	Content string
	// Embedding is the vector for Content.
	Embedding []float32
	// Title is the material's display title (its file name).
	Title string
	// Kind is the material kind, e.g. "syllabus".
	Kind string
}

// ScoredChunk is a Chunk returned by a similarity query. Embedding is not
// populated.
type ScoredChunk struct {
	Chunk
	// Score is the cosine similarity to the query vector; higher is closer.
	Score float32
}

// ChunkID returns the natural key of the index-th chunk of a material.
func ChunkID(materialID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", materialID, index)
}

// VectorStore persists chunks and answers course-scoped nearest-neighbour
// queries. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores chunks keyed by Chunk.ID, overwriting existing rows.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Query returns at most k chunks of courseID, ordered by descending
	// score with ties broken by ascending chunk ID.
	Query(ctx context.Context, courseID string, vec []float32, k int) ([]ScoredChunk, error)

	// DeleteByMaterial removes every chunk of materialID.
	DeleteByMaterial(ctx context.Context, materialID string) error

	// Close releases any resources held by the store.
	Close() error
}

// sortScored orders results by score descending, then ID ascending.
func sortScored(res []ScoredChunk) {
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].ID < res[j].ID
	})
}

// topK orders res with sortScored and keeps at most k entries.
func topK(res []ScoredChunk, k int) []ScoredChunk {
	sortScored(res)
	if len(res) > k {
		res = res[:k]
	}
	return res
}

// tieAtCut reports whether a full candidate window of sorted results may
// have cut a run of equal scores at position k: the k-th score equals the
// lowest score fetched.
func tieAtCut(sorted []ScoredChunk, k int, full bool) bool {
	if !full || k <= 0 || len(sorted) < k {
		return false
	}
	return sorted[k-1].Score == sorted[len(sorted)-1].Score
}

// cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
