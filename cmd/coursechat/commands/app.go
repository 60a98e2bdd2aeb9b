package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/54b3r/coursechat-go/internal/authz"
	"github.com/54b3r/coursechat-go/internal/chat"
	"github.com/54b3r/coursechat-go/internal/config"
	"github.com/54b3r/coursechat-go/internal/embedder"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/objectstore"
	"github.com/54b3r/coursechat-go/internal/provider"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/server"
	"github.com/54b3r/coursechat-go/internal/store"
)

// app holds the wired core services shared by serve and the one-shot
// commands. Fields are nil when the command did not ask for them.
type app struct {
	rt        *config.Runtime
	store     *store.SQLiteStore
	vectors   rag.VectorStore
	objects   objectstore.Store
	queue     ingestion.Queue
	embedding embedder.Config
	gate      *authz.Gate
	retriever *rag.Retriever
	pipeline  *ingestion.Pipeline
	chat      *chat.Orchestrator

	// pingers are the readiness probes for every remote dependency opened.
	pingers []server.Pinger
	closers []func() error
}

// appOptions selects which optional services openApp builds.
type appOptions struct {
	// chat builds the language-model provider and the orchestrator.
	chat bool
	// queue opens the configured ingestion queue; otherwise uploads are not
	// enqueued.
	queue bool
	// onIngest and onAnswer receive outcomes for metrics.
	onIngest func(materialID string, report *ingestion.Report, err error)
	onAnswer func(retrieved int, err error)
}

// openApp opens the relational store and builds every service the command
// needs. Close must be called on success.
func openApp(ctx context.Context, log *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{rt: config.FromEnv()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(a.rt.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: could not create %s: %w", filepath.Dir(a.rt.DBPath), err)
	}
	a.store, err = store.Open(a.rt.DBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)
	a.pingers = append(a.pingers, a.store)
	log.Info("store opened", slog.String("path", a.rt.DBPath))

	a.embedding = embedder.ConfigFromEnv()
	embedder.WarnIfChatModel(log, a.embedding)
	emb := buildEmbedder(log, a.embedding, a.rt)

	if a.vectors, err = buildVectors(ctx, log, a.rt, a.store, a.embedding); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.vectors.Close)
	if p, ok := a.vectors.(server.Pinger); ok {
		a.pingers = append(a.pingers, p)
	}

	objects, closeObjects, err := buildObjects(ctx, log, a.rt)
	if err != nil {
		return nil, err
	}
	a.objects = objects
	if closeObjects != nil {
		a.closers = append(a.closers, closeObjects)
	}
	if p, ok := objects.(server.Pinger); ok {
		a.pingers = append(a.pingers, p)
	}

	if opts.queue {
		if a.queue, err = buildQueue(ctx, log, a.rt); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.queue.Close)
		if p, ok := a.queue.(server.Pinger); ok {
			a.pingers = append(a.pingers, p)
		}
	}

	a.gate = authz.New(a.store)

	a.retriever, err = rag.NewRetriever(emb, a.vectors, a.gate, rag.RetrieverConfig{
		Embedding: a.embedding,
		TopK:      a.rt.RetrievalTopK,
		MinScore:  a.rt.RetrievalMinScore,
	})
	if err != nil {
		return nil, err
	}

	a.pipeline, err = ingestion.NewPipeline(ingestion.Deps{
		Materials: a.store,
		Vectors:   a.vectors,
		Embedder:  emb,
		Objects:   a.objects,
		Gate:      a.gate,
		Queue:     a.queue,
	}, ingestion.Config{
		Embedding:    a.embedding,
		ChunkSize:    a.rt.ChunkSize,
		ChunkOverlap: a.rt.ChunkOverlap,
		OnComplete:   opts.onIngest,
	})
	if err != nil {
		return nil, err
	}

	if opts.chat {
		providerCfg := provider.ConfigFromEnv()
		chatModel, err := provider.New(ctx, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise model provider: %w", err)
		}
		completer, err := provider.NewCompleter(chatModel)
		if err != nil {
			return nil, err
		}
		log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

		a.chat, err = chat.New(a.gate, a.retriever, completer, a.store, chat.Config{
			TopK:             a.rt.ChatTopK,
			MaxContextTokens: a.rt.ChatMaxTokens,
			OnAnswer:         opts.onAnswer,
		})
		if err != nil {
			return nil, err
		}
		if providerCfg.Backend == provider.BackendOllama {
			a.pingers = append(a.pingers, server.NewHTTPPinger("ollama", providerCfg.Ollama.Host+"/api/tags"))
		}
	}

	return a, nil
}

// Close releases everything openApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildEmbedder wraps the configured backend in the pacing/retry client.
// A misconfigured backend is not fatal at startup: ingestion and retrieval
// check the embedding config before every run and report a
// ConfigurationError to the caller instead.
func buildEmbedder(log *slog.Logger, cfg embedder.Config, rt *config.Runtime) *embedder.Client {
	backend, err := embedder.New(cfg)
	if err != nil {
		log.Warn("embedder: not configured, ingestion and retrieval will fail until it is",
			slog.String("provider", cfg.Provider), slog.Any("error", err))
		backend = unconfiguredEmbedder{err: err}
	} else {
		log.Info("embedder initialised", slog.String("provider", cfg.Provider), slog.String("model", cfg.Model))
	}
	return embedder.NewClient(backend, embedder.ClientOptions{RequestsPerSecond: rt.EmbeddingRPS})
}

// unconfiguredEmbedder stands in for a backend that could not be built.
type unconfiguredEmbedder struct{ err error }

func (u unconfiguredEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, u.err
}

// buildVectors opens the configured chunk vector store. The sqlite backend
// shares the relational database file.
func buildVectors(ctx context.Context, log *slog.Logger, rt *config.Runtime, st *store.SQLiteStore, emb embedder.Config) (rag.VectorStore, error) {
	switch rt.VectorBackend {
	case "sqlite":
		vs, err := rag.NewSQLiteStore(st.DB())
		if err != nil {
			return nil, err
		}
		log.Info("vector store ready", slog.String("backend", "sqlite"))
		return vs, nil
	case "qdrant":
		vs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       rt.QdrantHost,
			Port:       rt.QdrantPort,
			Collection: rt.QdrantCollection,
			VectorSize: uint64(embedder.DefaultDimensions(emb)), //nolint:gosec // dimensions are bounded
			APIKey:     rt.QdrantAPIKey,
			UseTLS:     rt.QdrantTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", rt.QdrantHost, rt.QdrantPort, err)
		}
		log.Info("vector store ready", slog.String("backend", "qdrant"),
			slog.String("host", rt.QdrantHost), slog.String("collection", rt.QdrantCollection))
		return vs, nil
	case "pgvector":
		if rt.PgVectorDSN == "" {
			return nil, fmt.Errorf("VECTOR_STORE=pgvector requires PGVECTOR_DSN")
		}
		vs, err := rag.NewPgVectorStore(ctx, &rag.PgVectorConfig{
			DSN:        rt.PgVectorDSN,
			Dimensions: embedder.DefaultDimensions(emb),
			Table:      rt.PgVectorTable,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
		}
		log.Info("vector store ready", slog.String("backend", "pgvector"))
		return vs, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE %q, valid values: sqlite, qdrant, pgvector", rt.VectorBackend)
	}
}

// buildObjects opens the configured object store. The returned close
// function is nil when the backend holds no resources.
func buildObjects(ctx context.Context, log *slog.Logger, rt *config.Runtime) (objectstore.Store, func() error, error) {
	switch rt.ObjectBackend {
	case "local":
		s, err := objectstore.NewLocalStore(rt.ObjectDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info("object store ready", slog.String("backend", "local"), slog.String("dir", rt.ObjectDir))
		return s, nil, nil
	case "gcs":
		s, err := objectstore.NewGCSStore(ctx, objectstore.GCSConfig{
			Bucket:          rt.GCSBucket,
			CredentialsFile: rt.GCSCredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("object store ready", slog.String("backend", "gcs"), slog.String("bucket", rt.GCSBucket))
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown OBJECT_STORE %q, valid values: local, gcs", rt.ObjectBackend)
	}
}

// buildQueue opens the configured ingestion queue.
func buildQueue(ctx context.Context, log *slog.Logger, rt *config.Runtime) (ingestion.Queue, error) {
	switch rt.Queue {
	case "memory":
		log.Info("ingestion queue ready", slog.String("backend", "memory"))
		return ingestion.NewMemoryQueue(256), nil
	case "redis":
		if rt.RedisURL == "" {
			return nil, fmt.Errorf("INGEST_QUEUE=redis requires REDIS_URL")
		}
		q, err := ingestion.NewRedisQueue(ctx, ingestion.RedisConfig{URL: rt.RedisURL, Key: rt.RedisKey})
		if err != nil {
			return nil, err
		}
		log.Info("ingestion queue ready", slog.String("backend", "redis"))
		return q, nil
	default:
		return nil, fmt.Errorf("unknown INGEST_QUEUE %q, valid values: memory, redis", rt.Queue)
	}
}
