package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedCourse creates a professor, a course and returns the course ID.
func seedCourse(t *testing.T, s *SQLiteStore, courseID, professorID string) string {
	t.Helper()
	ctx := context.Background()
	if err := s.PutUser(ctx, &User{ID: professorID, Role: RoleProfessor}); err != nil {
		t.Fatalf("put professor: %v", err)
	}
	if err := s.PutCourse(ctx, &Course{ID: courseID, ProfessorID: professorID, Title: "Course " + courseID}); err != nil {
		t.Fatalf("put course: %v", err)
	}
	return courseID
}

func Test_Store_UsersAndCourses(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedCourse(t, s, "c1", "p1")

	u, err := s.GetUser(ctx, "p1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Role != RoleProfessor {
		t.Errorf("role: want professor, got %s", u.Role)
	}

	c, err := s.GetCourse(ctx, "c1")
	if err != nil {
		t.Fatalf("get course: %v", err)
	}
	if c.ProfessorID != "p1" {
		t.Errorf("professor: want p1, got %s", c.ProfessorID)
	}

	if _, err := s.GetCourse(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing course: want NotFound, got %v", err)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing user: want NotFound, got %v", err)
	}
}

func Test_Store_PutUserRejectsUnknownRole(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.PutUser(context.Background(), &User{ID: "x", Role: "admin"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("want Validation, got %v", err)
	}
}

func Test_Store_Enrollment(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedCourse(t, s, "c1", "p1")

	ok, err := s.IsEnrolled(ctx, "s1", "c1")
	if err != nil {
		t.Fatalf("is enrolled: %v", err)
	}
	if ok {
		t.Fatal("expected not enrolled before Enroll")
	}

	for range 2 {
		if err := s.Enroll(ctx, "s1", "c1"); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	ok, err = s.IsEnrolled(ctx, "s1", "c1")
	if err != nil || !ok {
		t.Fatalf("expected enrolled, got %v / %v", ok, err)
	}
	if ok, _ := s.IsEnrolled(ctx, "s1", "c2"); ok {
		t.Error("enrollment leaked to another course")
	}
}

func Test_Store_MaterialLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedCourse(t, s, "c1", "p1")

	m := &Material{CourseID: "c1", FileName: "week1.pdf", StoragePath: "c1/week1.pdf", Kind: KindNotes}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated material ID")
	}

	got, err := s.GetMaterial(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusUploaded || got.Processed || got.ChunkCount != 0 {
		t.Errorf("fresh material: got status=%s processed=%v chunks=%d", got.Status, got.Processed, got.ChunkCount)
	}

	if err := s.SetMaterialStatus(ctx, m.ID, StatusEmbedding, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.MarkProcessed(ctx, m.ID, 2, "1 of 3 chunks failed"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	got, _ = s.GetMaterial(ctx, m.ID)
	if !got.Processed || got.ChunkCount != 2 || got.Status != StatusProcessed {
		t.Errorf("processed material: got processed=%v chunks=%d status=%s", got.Processed, got.ChunkCount, got.Status)
	}
	if got.LastError != "1 of 3 chunks failed" {
		t.Errorf("last error: got %q", got.LastError)
	}

	if err := s.DeleteMaterial(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMaterial(ctx, m.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("after delete: want NotFound, got %v", err)
	}
	if err := s.SetMaterialStatus(ctx, m.ID, StatusFailed, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("status on deleted material: want NotFound, got %v", err)
	}
}

func Test_Store_CreateMaterialUnknownKindBecomesOther(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	m := &Material{CourseID: "c1", StoragePath: "c1/x.bin", Kind: "poster"}
	if err := s.CreateMaterial(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Kind != KindOther {
		t.Errorf("kind: want other, got %s", m.Kind)
	}
}

func Test_Store_ListAndPendingMaterials(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	var ids []string
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		m := &Material{CourseID: "c1", FileName: name, StoragePath: "c1/" + name}
		if err := s.CreateMaterial(ctx, m); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		ids = append(ids, m.ID)
	}
	if err := s.CreateMaterial(ctx, &Material{CourseID: "c2", FileName: "z.pdf", StoragePath: "c2/z.pdf"}); err != nil {
		t.Fatalf("create c2: %v", err)
	}
	if err := s.MarkProcessed(ctx, ids[1], 4, ""); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	list, err := s.ListMaterials(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 materials in c1, got %d", len(list))
	}
	if list[0].FileName != "c.pdf" || list[2].FileName != "a.pdf" {
		t.Errorf("want newest first, got %s..%s", list[0].FileName, list[2].FileName)
	}

	pending, err := s.PendingMaterials(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("want 3 pending (a, c, z), got %d", len(pending))
	}
	for _, m := range pending {
		if m.ID == ids[1] {
			t.Errorf("processed material %s listed as pending", m.ID)
		}
	}
}

func Test_Store_QueryRecords(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i, q := range []string{"q1", "q2", "q3"} {
		r := &QueryRecord{
			StudentID: "s1",
			CourseID:  "c1",
			Question:  q,
			Answer:    "a",
			CreatedAt: time.Date(2026, 2, 1, 10, i, 0, 0, time.UTC),
		}
		if err := s.AppendQuery(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.AppendQuery(ctx, &QueryRecord{StudentID: "s2", CourseID: "c1", Question: "other", Answer: "a"}); err != nil {
		t.Fatalf("append s2: %v", err)
	}

	recs, err := s.RecentQueries(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	if recs[0].Question != "q3" || recs[1].Question != "q2" {
		t.Errorf("want q3,q2 got %s,%s", recs[0].Question, recs[1].Question)
	}
	for _, r := range recs {
		if r.StudentID != "s1" {
			t.Errorf("record for %s leaked into s1 history", r.StudentID)
		}
	}
}

func Test_Store_Ping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
