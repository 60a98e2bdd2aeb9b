package rag

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PgVectorConfig holds connection parameters for the pgvector backend.
type PgVectorConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string
	// Dimensions is the fixed vector column size.
	Dimensions int
	// Table is the chunk table name (default: course_chunks).
	Table string
}

// PgVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension, using the <=> cosine distance operator.
type PgVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgVectorStore creates the extension and table if needed and returns a
// pooled store. The extension must exist before the pool registers the
// vector codec, so migration runs on a dedicated connection first.
func NewPgVectorStore(ctx context.Context, cfg *PgVectorConfig) (*PgVectorStore, error) {
	if cfg.Table == "" {
		cfg.Table = "course_chunks"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive")
	}

	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
    id           TEXT PRIMARY KEY,
    material_id  TEXT NOT NULL,
    course_id    TEXT NOT NULL,
    idx          INTEGER NOT NULL,
    content      TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT '',
    embedding    vector(%[2]d) NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_course_idx ON %[1]s (course_id);
CREATE INDEX IF NOT EXISTS %[1]s_material_idx ON %[1]s (material_id);`,
		pgx.Identifier{cfg.Table}.Sanitize(), cfg.Dimensions)
	_, err = conn.Exec(ctx, ddl)
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector: migrate: %w", err)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	pcfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, c)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: pool: %w", err)
	}
	return &PgVectorStore{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}, nil
}

// Upsert writes chunks in a single batch.
func (s *PgVectorStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	q := fmt.Sprintf(`
INSERT INTO %s (id, material_id, course_id, idx, content, title, kind, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    material_id = EXCLUDED.material_id,
    course_id   = EXCLUDED.course_id,
    idx         = EXCLUDED.idx,
    content     = EXCLUDED.content,
    title       = EXCLUDED.title,
    kind        = EXCLUDED.kind,
    embedding   = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(q, c.ID, c.MaterialID, c.CourseID, c.Index, c.Content, c.Title, c.Kind, pgvector.NewVector(c.Embedding))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector: upsert: %w", err)
	}
	return nil
}

// Query orders the course's chunks by cosine distance. Similarity is
// reported as 1 - distance.
func (s *PgVectorStore) Query(ctx context.Context, courseID string, vec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
SELECT id, material_id, course_id, idx, content, title, kind, 1 - (embedding <=> $2) AS score
FROM   %s
WHERE  course_id = $1
ORDER  BY embedding <=> $2, id
LIMIT  $3`, s.table)

	rows, err := s.pool.Query(ctx, q, courseID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var score float64
		if err := rows.Scan(&sc.ID, &sc.MaterialID, &sc.CourseID, &sc.Index,
			&sc.Content, &sc.Title, &sc.Kind, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		sc.Score = float32(score)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	sortScored(out)
	return out, nil
}

// DeleteByMaterial removes every chunk of materialID.
func (s *PgVectorStore) DeleteByMaterial(ctx context.Context, materialID string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE material_id = $1`, s.table)
	if _, err := s.pool.Exec(ctx, q, materialID); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *PgVectorStore) Name() string { return "pgvector" }

// Ping checks that the database is reachable.
func (s *PgVectorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}
