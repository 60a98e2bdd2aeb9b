// Package ingestion turns uploaded course materials into course-scoped
// chunks in the vector store. A run loads the material text from object
// storage, chunks it, embeds each chunk and upserts the embedded chunks,
// recording every state transition on the material row.
//
// Runs are triggered synchronously through [Pipeline.IngestMaterial] and
// [Pipeline.Reingest], or asynchronously through [Pipeline.Submit] and a
// [Worker] draining a [Queue].
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/authz"
	"github.com/54b3r/coursechat-go/internal/chunker"
	"github.com/54b3r/coursechat-go/internal/embedder"
	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/objectstore"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/store"
)

// MaterialStore is the slice of the relational store the pipeline writes.
type MaterialStore interface {
	CreateMaterial(ctx context.Context, m *store.Material) error
	GetMaterial(ctx context.Context, id string) (*store.Material, error)
	SetMaterialStatus(ctx context.Context, id string, status store.MaterialStatus, detail string) error
	MarkProcessed(ctx context.Context, id string, chunkCount int, detail string) error
	DeleteMaterial(ctx context.Context, id string) error
	ListMaterials(ctx context.Context, courseID string) ([]store.Material, error)
}

// ChunkEmbedder embeds chunk texts with per-item outcomes.
type ChunkEmbedder interface {
	EmbedEach(ctx context.Context, texts []string) []embedder.Result
}

// ManageGate is the authorization check run before any ingestion side effect.
type ManageGate interface {
	Require(ctx context.Context, actorID, courseID string, cap authz.Capability) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Embedding is checked with embedder.CheckConfigured before a run
	// touches the material row or the vector store.
	Embedding embedder.Config

	// ChunkSize is the target number of characters per chunk.
	// Defaults to chunker.DefaultTargetSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to chunker.DefaultOverlap if zero; negative disables overlap.
	ChunkOverlap int

	// OnComplete, when set, is called after every run with its report and
	// error. It must not block.
	OnComplete func(materialID string, report *Report, err error)
}

// Pipeline orchestrates the load → chunk → embed → upsert flow for one
// material at a time. It is safe for concurrent use; runs for different
// materials never touch each other's rows or chunks.
type Pipeline struct {
	materials MaterialStore
	vectors   rag.VectorStore
	embedder  ChunkEmbedder
	objects   objectstore.Store
	gate      ManageGate
	queue     Queue
	chunker   *chunker.Chunker
	cfg       Config
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Materials MaterialStore
	Vectors   rag.VectorStore
	Embedder  ChunkEmbedder
	Objects   objectstore.Store
	// Gate is required by the actor-facing entrypoints (Upload, Submit,
	// Reingest, DeleteMaterial). IngestMaterial does not use it.
	Gate ManageGate
	// Queue receives material IDs from Upload and Submit. Optional.
	Queue Queue
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Materials == nil:
		return nil, fmt.Errorf("ingestion: material store must not be nil")
	case deps.Vectors == nil:
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	case deps.Objects == nil:
		return nil, fmt.Errorf("ingestion: object store must not be nil")
	}
	overlap := cfg.ChunkOverlap
	if overlap == 0 {
		overlap = chunker.DefaultOverlap
	}
	return &Pipeline{
		materials: deps.Materials,
		vectors:   deps.Vectors,
		embedder:  deps.Embedder,
		objects:   deps.Objects,
		gate:      deps.Gate,
		queue:     deps.Queue,
		chunker:   chunker.New(chunker.Config{TargetSize: cfg.ChunkSize, Overlap: overlap}),
		cfg:       cfg,
	}, nil
}

// IngestMaterial runs the pipeline for materialID and returns a report of
// attempted, stored and failed chunks.
//
// A ConfigurationError is returned before any state changes. When every
// chunk fails to embed the material is marked failed and nothing is written
// to the vector store. When some chunks fail the rest are persisted, the
// material is marked processed with the stored count and the returned error
// is a PartialIngestion error alongside the report.
func (p *Pipeline) IngestMaterial(ctx context.Context, materialID string) (*Report, error) {
	return p.run(ctx, materialID, false)
}

// Reingest clears the material's chunks and runs the pipeline again. The
// actor must own the material's course.
func (p *Pipeline) Reingest(ctx context.Context, actorID, materialID string) (*Report, error) {
	m, err := p.authorizeMaterial(ctx, actorID, materialID)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, m.ID, true)
}

// Submit authorizes actorID against the material's course and enqueues the
// material for asynchronous ingestion. Completion is observed by polling
// the material's processed flag.
func (p *Pipeline) Submit(ctx context.Context, actorID, materialID string) error {
	if p.queue == nil {
		return fmt.Errorf("ingestion: no queue configured")
	}
	m, err := p.authorizeMaterial(ctx, actorID, materialID)
	if err != nil {
		return err
	}
	if err := embedder.CheckConfigured(p.cfg.Embedding); err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, m.ID); err != nil {
		return fmt.Errorf("ingestion: enqueue %s: %w", m.ID, err)
	}
	return nil
}

// AuthorizeUpload reports whether actorID may add materials to courseID,
// so a caller can refuse an upload before reading its body.
func (p *Pipeline) AuthorizeUpload(ctx context.Context, actorID, courseID string) error {
	if courseID == "" {
		return apperr.Validation("ingestion.AuthorizeUpload", "course id is required")
	}
	return p.require(ctx, actorID, courseID)
}

// Upload validates and stores a new material for courseID, creates its row
// in the uploaded state and, when a queue is configured, enqueues it. An
// empty kind is inferred from the file name.
func (p *Pipeline) Upload(ctx context.Context, actorID, courseID, fileName, kind string, r io.Reader) (*store.Material, error) {
	const op = "ingestion.Upload"
	if courseID == "" {
		return nil, apperr.Validation(op, "course id is required")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, apperr.Validation(op, "file name is required")
	}
	if err := p.require(ctx, actorID, courseID); err != nil {
		return nil, err
	}

	mk := store.ParseMaterialKind(kind)
	if kind == "" {
		mk = InferKind(fileName)
	}
	m := &store.Material{
		ID:       uuid.NewString(),
		CourseID: courseID,
		FileName: fileName,
		Kind:     mk,
	}
	m.StoragePath = objectstore.Key(courseID, m.ID, fileName)

	if err := p.objects.Put(ctx, m.StoragePath, r, objectstore.ContentType(fileName)); err != nil {
		_ = p.objects.Delete(ctx, m.StoragePath)
		return nil, fmt.Errorf("ingestion: store upload: %w", err)
	}
	if err := p.materials.CreateMaterial(ctx, m); err != nil {
		_ = p.objects.Delete(ctx, m.StoragePath)
		return nil, err
	}

	if p.queue != nil {
		if err := embedder.CheckConfigured(p.cfg.Embedding); err != nil {
			logging.FromContext(ctx).Warn("upload stored without ingestion", "material_id", m.ID, "error", err)
			return m, nil
		}
		if err := p.queue.Enqueue(ctx, m.ID); err != nil {
			logging.FromContext(ctx).Error("enqueue failed; worker will recover it on restart",
				"material_id", m.ID, "error", err)
		}
	}
	return m, nil
}

// DeleteMaterial removes a material's chunks, its row and its stored
// object, in that order, so no chunk outlives its material.
func (p *Pipeline) DeleteMaterial(ctx context.Context, actorID, materialID string) error {
	m, err := p.authorizeMaterial(ctx, actorID, materialID)
	if err != nil {
		return err
	}
	if err := p.vectors.DeleteByMaterial(ctx, m.ID); err != nil {
		return fmt.Errorf("ingestion: delete chunks of %s: %w", m.ID, err)
	}
	if err := p.materials.DeleteMaterial(ctx, m.ID); err != nil {
		return err
	}
	if err := p.objects.Delete(ctx, m.StoragePath); err != nil && !errors.Is(err, objectstore.ErrNotExist) {
		logging.FromContext(ctx).Warn("stored object not removed", "material_id", m.ID, "path", m.StoragePath, "error", err)
	}
	return nil
}

// ListMaterials returns courseID's materials with their ingestion state.
// Anyone who may read the course may list it.
func (p *Pipeline) ListMaterials(ctx context.Context, actorID, courseID string) ([]store.Material, error) {
	if courseID == "" {
		return nil, apperr.Validation("ingestion.ListMaterials", "course id is required")
	}
	if p.gate == nil {
		return nil, fmt.Errorf("ingestion: authorization gate not configured")
	}
	if err := p.gate.Require(ctx, actorID, courseID, authz.Read); err != nil {
		return nil, err
	}
	return p.materials.ListMaterials(ctx, courseID)
}

// authorizeMaterial loads materialID and requires manage rights on its course.
func (p *Pipeline) authorizeMaterial(ctx context.Context, actorID, materialID string) (*store.Material, error) {
	if materialID == "" {
		return nil, apperr.Validation("ingestion", "material id is required")
	}
	m, err := p.materials.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if err := p.require(ctx, actorID, m.CourseID); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Pipeline) require(ctx context.Context, actorID, courseID string) error {
	if p.gate == nil {
		return fmt.Errorf("ingestion: authorization gate not configured")
	}
	return p.gate.Require(ctx, actorID, courseID, authz.Manage)
}

// run executes one ingestion. force clears existing chunks even when the
// material was never marked processed.
func (p *Pipeline) run(ctx context.Context, materialID string, force bool) (report *Report, err error) {
	const op = "ingestion.IngestMaterial"
	log := logging.FromContext(ctx).With("material_id", materialID)
	defer func() {
		if p.cfg.OnComplete != nil {
			p.cfg.OnComplete(materialID, report, err)
		}
	}()

	if err := embedder.CheckConfigured(p.cfg.Embedding); err != nil {
		return nil, err
	}
	m, err := p.materials.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	purge := force || m.Processed

	text, err := objectstore.GetText(ctx, p.objects, m.StoragePath)
	if err != nil {
		return nil, p.fail(ctx, m.ID, fmt.Errorf("ingestion: load %s: %w", m.StoragePath, err))
	}

	if err := p.setStatus(ctx, m.ID, store.StatusChunking); err != nil {
		return nil, err
	}
	segments := p.chunker.Chunk(text)
	report = &Report{MaterialID: m.ID, Attempted: len(segments)}
	log.Info("material chunked", "chunks", len(segments))

	if len(segments) == 0 {
		if purge {
			if err := p.vectors.DeleteByMaterial(ctx, m.ID); err != nil {
				return report, p.fail(ctx, m.ID, fmt.Errorf("ingestion: clear chunks: %w", err))
			}
		}
		if err := p.materials.MarkProcessed(ctx, m.ID, 0, ""); err != nil {
			return report, err
		}
		return report, nil
	}

	if err := p.setStatus(ctx, m.ID, store.StatusEmbedding); err != nil {
		return report, err
	}
	results := p.embedder.EmbedEach(ctx, segments)

	chunks := make([]rag.Chunk, 0, len(segments))
	var lastErr error
	for _, r := range results {
		id := rag.ChunkID(m.ID, r.Index)
		if !r.Embedded() {
			report.Failed = append(report.Failed, ChunkFailure{ChunkID: id, Index: r.Index, Err: r.Err})
			lastErr = r.Err
			continue
		}
		chunks = append(chunks, rag.Chunk{
			ID:         id,
			MaterialID: m.ID,
			CourseID:   m.CourseID,
			Index:      r.Index,
			Content:    segments[r.Index],
			Embedding:  r.Vector,
			Title:      m.FileName,
			Kind:       string(m.Kind),
		})
	}

	if len(chunks) == 0 {
		// Nothing was persisted; the previous chunks and counts stay intact.
		failErr := lastErr
		if !errors.Is(lastErr, apperr.ErrConfiguration) {
			failErr = apperr.ProviderUnavailable(op, fmt.Errorf("all %d chunks failed to embed: %w", len(segments), lastErr))
		}
		return report, p.fail(ctx, m.ID, failErr)
	}

	if err := p.setStatus(ctx, m.ID, store.StatusPersisting); err != nil {
		return report, err
	}
	if purge {
		if err := p.vectors.DeleteByMaterial(ctx, m.ID); err != nil {
			return report, p.fail(ctx, m.ID, fmt.Errorf("ingestion: clear chunks: %w", err))
		}
	}
	if err := p.vectors.Upsert(ctx, chunks); err != nil {
		return report, p.fail(ctx, m.ID, fmt.Errorf("ingestion: upsert: %w", err))
	}
	report.Stored = len(chunks)

	detail := ""
	if report.Partial() {
		detail = report.Summary()
	}
	if err := p.materials.MarkProcessed(ctx, m.ID, report.Stored, detail); err != nil {
		return report, err
	}

	if report.Partial() {
		log.Warn("material partially ingested", "stored", report.Stored, "failed", len(report.Failed))
		return report, &apperr.Error{Kind: apperr.KindPartialIngestion, Op: op, Msg: detail, Err: lastErr}
	}
	log.Info("material ingested", "stored", report.Stored)
	return report, nil
}

func (p *Pipeline) setStatus(ctx context.Context, id string, status store.MaterialStatus) error {
	if err := p.materials.SetMaterialStatus(ctx, id, status, ""); err != nil {
		return fmt.Errorf("ingestion: set status %s: %w", status, err)
	}
	return nil
}

// fail records err on the material and returns it.
func (p *Pipeline) fail(ctx context.Context, id string, err error) error {
	if serr := p.materials.SetMaterialStatus(ctx, id, store.StatusFailed, err.Error()); serr != nil {
		logging.FromContext(ctx).Error("failed to record ingestion failure", "material_id", id, "error", serr)
	}
	logging.FromContext(ctx).Error("ingestion failed", slog.String("material_id", id), slog.Any("error", err))
	return err
}
