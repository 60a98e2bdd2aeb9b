package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// SQLiteStore is a VectorStore over a SQLite table with an exact cosine
// scan. It shares the relational store's *sql.DB so a single file holds
// everything in the default deployment.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the chunks table on db if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id           TEXT PRIMARY KEY,
    material_id  TEXT NOT NULL,
    course_id    TEXT NOT NULL,
    idx          INTEGER NOT NULL,
    content      TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT '',
    embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_course ON chunks (course_id);
CREATE INDEX IF NOT EXISTS idx_chunks_material ON chunks (material_id);
`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("rag: sqlite migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert writes chunks in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: sqlite begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO chunks (id, material_id, course_id, idx, content, title, kind, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    material_id = excluded.material_id,
    course_id   = excluded.course_id,
    idx         = excluded.idx,
    content     = excluded.content,
    title       = excluded.title,
    kind        = excluded.kind,
    embedding   = excluded.embedding`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("rag: sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.MaterialID, c.CourseID, c.Index,
			c.Content, c.Title, c.Kind, encodeVector(c.Embedding)); err != nil {
			return fmt.Errorf("rag: sqlite upsert %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: sqlite commit: %w", err)
	}
	return nil
}

// Query scans the course's chunks and returns the k most similar.
func (s *SQLiteStore) Query(ctx context.Context, courseID string, vec []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	const q = `SELECT id, material_id, course_id, idx, content, title, kind, embedding FROM chunks WHERE course_id = ?`
	rows, err := s.db.QueryContext(ctx, q, courseID)
	if err != nil {
		return nil, fmt.Errorf("rag: sqlite query: %w", err)
	}
	defer rows.Close()

	var res []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var blob []byte
		if err := rows.Scan(&sc.ID, &sc.MaterialID, &sc.CourseID, &sc.Index,
			&sc.Content, &sc.Title, &sc.Kind, &blob); err != nil {
			return nil, fmt.Errorf("rag: sqlite scan: %w", err)
		}
		sc.Score = cosine(vec, decodeVector(blob))
		res = append(res, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: sqlite rows: %w", err)
	}

	return topK(res, k), nil
}

// DeleteByMaterial removes every chunk of materialID.
func (s *SQLiteStore) DeleteByMaterial(ctx context.Context, materialID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE material_id = ?`, materialID); err != nil {
		return fmt.Errorf("rag: sqlite delete: %w", err)
	}
	return nil
}

// CountByMaterial returns the number of stored chunks for materialID.
func (s *SQLiteStore) CountByMaterial(ctx context.Context, materialID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE material_id = ?`, materialID).Scan(&n); err != nil {
		return 0, fmt.Errorf("rag: sqlite count: %w", err)
	}
	return n, nil
}

// Close is a no-op; the *sql.DB belongs to the relational store.
func (s *SQLiteStore) Close() error { return nil }

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
