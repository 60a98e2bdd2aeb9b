// Package store provides the SQLite-backed relational store for coursechat:
// users, courses, enrollments, materials and the append-only query log.
// The authorization gate resolves roles and ownership from here on every
// request, and the ingestion pipeline records material state here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// SQLiteStore is the relational store backed by a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the connection pool so the SQLite vector store can share the
// same database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id          TEXT PRIMARY KEY,
    email       TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL CHECK(role IN ('professor','student')),
    created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS courses (
    id            TEXT PRIMARY KEY,
    professor_id  TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS enrollments (
    student_id  TEXT NOT NULL,
    course_id   TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (student_id, course_id)
);
CREATE TABLE IF NOT EXISTS materials (
    id            TEXT PRIMARY KEY,
    course_id     TEXT NOT NULL,
    file_name     TEXT NOT NULL,
    storage_path  TEXT NOT NULL,
    kind          TEXT NOT NULL,
    processed     INTEGER NOT NULL DEFAULT 0,
    chunk_count   INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    last_error    TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,  -- Unix milliseconds
    updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_materials_course_created
    ON materials (course_id, created_at);
CREATE TABLE IF NOT EXISTS query_records (
    id          TEXT PRIMARY KEY,
    student_id  TEXT NOT NULL,
    course_id   TEXT NOT NULL,
    question    TEXT NOT NULL,
    answer      TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_records_student_created
    ON query_records (student_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// ---------------------------------------------------------------------------
// Users, courses, enrollments
// ---------------------------------------------------------------------------

// PutUser inserts or updates a user row.
func (s *SQLiteStore) PutUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		return apperr.Validation("store.PutUser", "user id is required")
	}
	if u.Role != RoleProfessor && u.Role != RoleStudent {
		return apperr.Validation("store.PutUser", fmt.Sprintf("invalid role %q", u.Role))
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	const q = `
INSERT INTO users (id, email, role, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET email = excluded.email, role = excluded.role`
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Email, string(u.Role), u.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: put user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given ID or a NotFound error.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	const q = `SELECT id, email, role, created_at FROM users WHERE id = ?`
	var u User
	var role string
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &role, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.GetUser", fmt.Sprintf("user %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.UnixMilli(ts)
	return &u, nil
}

// PutCourse inserts or updates a course row.
func (s *SQLiteStore) PutCourse(ctx context.Context, c *Course) error {
	if c.ID == "" || c.ProfessorID == "" {
		return apperr.Validation("store.PutCourse", "course id and professor id are required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	const q = `
INSERT INTO courses (id, professor_id, title, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET professor_id = excluded.professor_id, title = excluded.title`
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.ProfessorID, c.Title, c.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: put course: %w", err)
	}
	return nil
}

// GetCourse returns the course with the given ID or a NotFound error.
func (s *SQLiteStore) GetCourse(ctx context.Context, id string) (*Course, error) {
	const q = `SELECT id, professor_id, title, created_at FROM courses WHERE id = ?`
	var c Course
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.ProfessorID, &c.Title, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.GetCourse", fmt.Sprintf("course %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get course: %w", err)
	}
	c.CreatedAt = time.UnixMilli(ts)
	return &c, nil
}

// Enroll records that studentID may read courseID. Enrolling twice is a no-op.
func (s *SQLiteStore) Enroll(ctx context.Context, studentID, courseID string) error {
	const q = `INSERT OR IGNORE INTO enrollments (student_id, course_id, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, studentID, courseID, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("store: enroll: %w", err)
	}
	return nil
}

// IsEnrolled reports whether an enrollment row exists for the pair.
func (s *SQLiteStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	const q = `SELECT 1 FROM enrollments WHERE student_id = ? AND course_id = ?`
	var one int
	err := s.db.QueryRowContext(ctx, q, studentID, courseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is enrolled: %w", err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Materials
// ---------------------------------------------------------------------------

const materialColumns = `id, course_id, file_name, storage_path, kind, processed, chunk_count, status, last_error, created_at, updated_at`

// CreateMaterial inserts a new material in the uploaded state. An ID is
// generated when m.ID is empty.
func (s *SQLiteStore) CreateMaterial(ctx context.Context, m *Material) error {
	if m.CourseID == "" || m.StoragePath == "" {
		return apperr.Validation("store.CreateMaterial", "course id and storage path are required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if !m.Kind.Valid() {
		m.Kind = KindOther
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	m.Status = StatusUploaded
	m.Processed = false
	m.ChunkCount = 0

	q := `INSERT INTO materials (` + materialColumns + `) VALUES (?, ?, ?, ?, ?, 0, 0, ?, '', ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		m.ID, m.CourseID, m.FileName, m.StoragePath, string(m.Kind),
		string(m.Status), now.UnixMilli(), now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("store: create material: %w", err)
	}
	return nil
}

// GetMaterial returns the material with the given ID or a NotFound error.
func (s *SQLiteStore) GetMaterial(ctx context.Context, id string) (*Material, error) {
	q := `SELECT ` + materialColumns + ` FROM materials WHERE id = ?`
	m, err := scanMaterial(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.GetMaterial", fmt.Sprintf("material %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get material: %w", err)
	}
	return m, nil
}

// ListMaterials returns a course's materials, newest first.
func (s *SQLiteStore) ListMaterials(ctx context.Context, courseID string) ([]Material, error) {
	q := `SELECT ` + materialColumns + ` FROM materials WHERE course_id = ? ORDER BY created_at DESC, rowid DESC`
	return s.queryMaterials(ctx, q, courseID)
}

// PendingMaterials returns materials whose ingestion has not reached a
// terminal state, oldest first. The ingestion worker re-enqueues these on
// start so an interrupted run is never silently dropped.
func (s *SQLiteStore) PendingMaterials(ctx context.Context) ([]Material, error) {
	q := `SELECT ` + materialColumns + ` FROM materials WHERE status NOT IN (?, ?) ORDER BY created_at ASC, rowid ASC`
	return s.queryMaterials(ctx, q, string(StatusProcessed), string(StatusFailed))
}

// SetMaterialStatus records an ingestion state transition. detail is stored
// as last_error and cleared when empty.
func (s *SQLiteStore) SetMaterialStatus(ctx context.Context, id string, status MaterialStatus, detail string) error {
	const q = `UPDATE materials SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	return s.updateMaterial(ctx, "store.SetMaterialStatus", q, string(status), detail, s.now().UnixMilli(), id)
}

// MarkProcessed completes an ingestion run: processed=true, the persisted
// chunk count, and status processed. detail carries a partial-failure summary.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, chunkCount int, detail string) error {
	const q = `UPDATE materials SET processed = 1, chunk_count = ?, status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	return s.updateMaterial(ctx, "store.MarkProcessed", q, chunkCount, string(StatusProcessed), detail, s.now().UnixMilli(), id)
}

// DeleteMaterial removes the material row. Callers must delete the
// material's chunks from the vector store first.
func (s *SQLiteStore) DeleteMaterial(ctx context.Context, id string) error {
	const q = `DELETE FROM materials WHERE id = ?`
	return s.updateMaterial(ctx, "store.DeleteMaterial", q, id)
}

// updateMaterial executes a single-row material update, mapping zero
// affected rows to NotFound.
func (s *SQLiteStore) updateMaterial(ctx context.Context, op, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, "material not found")
	}
	return nil
}

// queryMaterials runs q and scans every row into a Material.
func (s *SQLiteStore) queryMaterials(ctx context.Context, q string, args ...any) ([]Material, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query materials: %w", err)
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan material: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: material rows: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMaterial scans one row selected with materialColumns.
func scanMaterial(r rowScanner) (*Material, error) {
	var m Material
	var kind, status string
	var processed int
	var created, updated int64
	if err := r.Scan(&m.ID, &m.CourseID, &m.FileName, &m.StoragePath, &kind,
		&processed, &m.ChunkCount, &status, &m.LastError, &created, &updated); err != nil {
		return nil, err
	}
	m.Kind = MaterialKind(kind)
	m.Processed = processed != 0
	m.Status = MaterialStatus(status)
	m.CreatedAt = time.UnixMilli(created)
	m.UpdatedAt = time.UnixMilli(updated)
	return &m, nil
}

// ---------------------------------------------------------------------------
// Query records
// ---------------------------------------------------------------------------

// AppendQuery persists an answered question. Records are never updated.
func (s *SQLiteStore) AppendQuery(ctx context.Context, r *QueryRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	const q = `INSERT INTO query_records (id, student_id, course_id, question, answer, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, r.ID, r.StudentID, r.CourseID, r.Question, r.Answer, r.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("store: append query: %w", err)
	}
	return nil
}

// RecentQueries returns the student's most recent n records, newest first.
func (s *SQLiteStore) RecentQueries(ctx context.Context, studentID string, n int) ([]QueryRecord, error) {
	const q = `
SELECT id, student_id, course_id, question, answer, created_at
FROM   query_records
WHERE  student_id = ?
ORDER  BY created_at DESC, rowid DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, studentID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent queries: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var r QueryRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.StudentID, &r.CourseID, &r.Question, &r.Answer, &ts); err != nil {
			return nil, fmt.Errorf("store: recent queries scan: %w", err)
		}
		r.CreatedAt = time.UnixMilli(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent queries rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
