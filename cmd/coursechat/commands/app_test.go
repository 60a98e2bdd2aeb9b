package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/config"
	"github.com/54b3r/coursechat-go/internal/embedder"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/store"
	"github.com/54b3r/coursechat-go/internal/version"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// localEnv points every backend at a temp dir with no remote services.
func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COURSECHAT_DB", filepath.Join(dir, "data", "coursechat.db"))
	t.Setenv("OBJECT_STORE_DIR", filepath.Join(dir, "objects"))
	t.Setenv("VECTOR_STORE", "sqlite")
	t.Setenv("OBJECT_STORE", "local")
	t.Setenv("INGEST_QUEUE", "memory")
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func TestOpenApp_LocalBackends(t *testing.T) {
	localEnv(t)
	ctx := context.Background()

	a, err := openApp(ctx, discardLogger(), appOptions{queue: true})
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	defer a.Close()

	if a.chat != nil {
		t.Error("chat built without being requested")
	}
	names := make([]string, 0, len(a.pingers))
	for _, p := range a.pingers {
		names = append(names, p.Name())
	}
	if got := strings.Join(names, ","); got != "sqlite,objectstore" {
		t.Errorf("pingers = %s", got)
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(a.store.PutUser(ctx, &store.User{ID: "prof", Role: store.RoleProfessor}))
	must(a.store.PutUser(ctx, &store.User{ID: "stu", Role: store.RoleStudent}))
	must(a.store.PutCourse(ctx, &store.Course{ID: "cs101", ProfessorID: "prof"}))
	must(a.store.Enroll(ctx, "stu", "cs101"))

	m, err := a.pipeline.Upload(ctx, "prof", "cs101", "syllabus.md", "", strings.NewReader("Midterm: week 7"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if m.Kind != store.KindSyllabus || m.Status != store.StatusUploaded {
		t.Errorf("unexpected material %+v", m)
	}

	list, err := a.pipeline.ListMaterials(ctx, "stu", "cs101")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}

	// The embedder has no key: retrieval and ingestion report a
	// configuration error instead of failing startup.
	if _, err := a.retriever.Search(ctx, "stu", "cs101", "midterm", 3); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("search: want ConfigurationError, got %v", err)
	}
	if _, err := a.pipeline.IngestMaterial(ctx, m.ID); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("ingest: want ConfigurationError, got %v", err)
	}
	got, err := a.store.GetMaterial(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Processed || got.Status != store.StatusUploaded {
		t.Errorf("material state changed by an unconfigured run: %+v", got)
	}

	if err := a.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestBuildVectors_Unknown(t *testing.T) {
	t.Parallel()
	rt := &config.Runtime{VectorBackend: "faiss"}
	if _, err := buildVectors(context.Background(), discardLogger(), rt, nil, embedder.Config{Provider: "ollama"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
	rt = &config.Runtime{VectorBackend: "pgvector"}
	if _, err := buildVectors(context.Background(), discardLogger(), rt, nil, embedder.Config{Provider: "ollama"}); err == nil {
		t.Fatal("expected an error for pgvector without a DSN")
	}
}

func TestBuildObjects(t *testing.T) {
	t.Parallel()
	rt := &config.Runtime{ObjectBackend: "local", ObjectDir: t.TempDir()}
	s, closeFn, err := buildObjects(context.Background(), discardLogger(), rt)
	if err != nil || s == nil || closeFn != nil {
		t.Fatalf("local: %v %v", s, err)
	}
	rt.ObjectBackend = "s3"
	if _, _, err := buildObjects(context.Background(), discardLogger(), rt); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestBuildQueue(t *testing.T) {
	t.Parallel()
	q, err := buildQueue(context.Background(), discardLogger(), &config.Runtime{Queue: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.(*ingestion.MemoryQueue); !ok {
		t.Errorf("got %T", q)
	}
	_ = q.Close()

	if _, err := buildQueue(context.Background(), discardLogger(), &config.Runtime{Queue: "redis"}); err == nil {
		t.Error("expected an error for redis without REDIS_URL")
	}
	if _, err := buildQueue(context.Background(), discardLogger(), &config.Runtime{Queue: "kafka"}); err == nil {
		t.Error("expected an error for an unknown queue")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()
	want := []string{"serve", "ingest", "ask", "search", "admin", "token", "migrate", "version"}
	for _, name := range want {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	if strings.TrimSpace(buf.String()) != version.String() {
		t.Errorf("version output %q", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("héllo", 10); got != "héllo" {
		t.Errorf("got %q", got)
	}
	if got := truncate("héllo", 2); got != "hé..." {
		t.Errorf("got %q", got)
	}
}
