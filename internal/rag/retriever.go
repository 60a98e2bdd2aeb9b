package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/authz"
	"github.com/54b3r/coursechat-go/internal/embedder"
)

// Defaults for course-scoped retrieval.
const (
	DefaultTopK     = 5
	DefaultMinScore = 0.5
)

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ReadGate is the authorization check Search runs before any embedding.
type ReadGate interface {
	Require(ctx context.Context, actorID, courseID string, cap authz.Capability) error
}

// Result is one retrieved chunk as returned to callers.
type Result struct {
	// ChunkID is the natural chunk key.
	ChunkID string
	// MaterialID is the owning material.
	MaterialID string
	// Content is the chunk text.
	Content string
	// Title is the material title.
	Title string
	// Kind is the material kind.
	Kind string
	// Score is the similarity to the query.
	Score float32
}

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// Embedding is checked with embedder.CheckConfigured before every call.
	Embedding embedder.Config
	// TopK is used when a caller passes k <= 0. Default DefaultTopK.
	TopK int
	// MinScore drops results scoring below it. Zero keeps everything.
	MinScore float32
}

// Retriever couples query embedding with course-scoped vector search.
type Retriever struct {
	embedder QueryEmbedder
	store    VectorStore
	gate     ReadGate
	cfg      RetrieverConfig
}

// NewRetriever constructs a Retriever. gate may be nil when only the
// unauthenticated Retrieve entrypoint is used (CLI, tests).
func NewRetriever(emb QueryEmbedder, store VectorStore, gate ReadGate, cfg RetrieverConfig) (*Retriever, error) {
	if emb == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Retriever{embedder: emb, store: store, gate: gate, cfg: cfg}, nil
}

// Retrieve embeds query once and returns up to k chunks of courseID in rank
// order. Results below the configured minimum score are dropped; ordering is
// otherwise the store's.
func (r *Retriever) Retrieve(ctx context.Context, query, courseID string, k int) ([]Result, error) {
	const op = "rag.Retrieve"
	if err := embedder.CheckConfigured(r.cfg.Embedding); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation(op, "query must not be empty")
	}
	if courseID == "" {
		return nil, apperr.Validation(op, "course id is required")
	}
	if k <= 0 {
		k = r.cfg.TopK
	}

	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}

	hits, err := r.store.Query(ctx, courseID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.MinScore {
			continue
		}
		out = append(out, Result{
			ChunkID:    h.ID,
			MaterialID: h.MaterialID,
			Content:    h.Content,
			Title:      h.Title,
			Kind:       h.Kind,
			Score:      h.Score,
		})
	}
	return out, nil
}

// Search is Retrieve for an authenticated actor: the read check runs first
// and a denial returns before any embedding or store call.
func (r *Retriever) Search(ctx context.Context, actorID, courseID, query string, k int) ([]Result, error) {
	if r.gate == nil {
		return nil, fmt.Errorf("rag: search requires an authorization gate")
	}
	if err := r.gate.Require(ctx, actorID, courseID, authz.Read); err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, query, courseID, k)
}
