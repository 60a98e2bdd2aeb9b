package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/authz"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/store"
)

type fakeGate struct{ allow string }

func (g fakeGate) Require(_ context.Context, actorID, _ string, _ authz.Capability) error {
	if actorID == "" {
		return apperr.Unauthorized("authz", "no identity presented")
	}
	if actorID != g.allow {
		return apperr.Forbidden("authz", "not enrolled in this course")
	}
	return nil
}

type fakeRetriever struct {
	results []rag.Result
	err     error
	calls   int
	gotK    int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string, k int) ([]rag.Result, error) {
	f.calls++
	f.gotK = k
	return f.results, f.err
}

type fakeCompleter struct {
	reply     string
	err       error
	calls     int
	gotSystem string
	gotUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.gotSystem, f.gotUser = system, user
	return f.reply, f.err
}

type fakeLog struct {
	mu      sync.Mutex
	records []store.QueryRecord
	err     error
	gotN    int
}

func (f *fakeLog) AppendQuery(_ context.Context, r *store.QueryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeLog) RecentQueries(_ context.Context, _ string, n int) ([]store.QueryRecord, error) {
	f.gotN = n
	return f.records, nil
}

var ranked = []rag.Result{
	{ChunkID: "m1-chunk-0", Title: "syllabus.pdf", Kind: "syllabus", Content: "The midterm exam is in week 7.", Score: 0.9},
	{ChunkID: "m2-chunk-3", Title: "week6.md", Kind: "notes", Content: "Review session before the midterm.", Score: 0.7},
}

func newOrchestrator(t *testing.T, r *fakeRetriever, c *fakeCompleter, l *fakeLog, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(fakeGate{allow: "stu"}, r, c, l, cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return o
}

func TestAnswer_GroundedReply(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{results: ranked}
	c := &fakeCompleter{reply: "The midterm is in week 7 (syllabus.pdf)."}
	l := &fakeLog{}
	o := newOrchestrator(t, r, c, l, Config{})

	ans, err := o.Answer(context.Background(), "stu", "c1", "When is the midterm?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if r.gotK != DefaultTopK {
		t.Errorf("want k=%d, got %d", DefaultTopK, r.gotK)
	}
	if ans.Answer != c.reply {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.Sources) != 2 || ans.Sources[0].Title != "syllabus.pdf" || ans.Sources[1].Kind != "notes" {
		t.Errorf("unexpected sources: %+v", ans.Sources)
	}
	if c.gotUser != "When is the midterm?" {
		t.Errorf("user message = %q", c.gotUser)
	}
	first := strings.Index(c.gotSystem, ranked[0].Content)
	second := strings.Index(c.gotSystem, ranked[1].Content)
	if first < 0 || second < 0 || first > second {
		t.Errorf("context not in rank order:\n%s", c.gotSystem)
	}
	if !strings.Contains(c.gotSystem, "ONLY") {
		t.Error("system prompt does not constrain the model to the context")
	}
	if len(l.records) != 1 || l.records[0].Answer != c.reply || l.records[0].StudentID != "stu" {
		t.Errorf("unexpected records: %+v", l.records)
	}
}

func TestAnswer_ForbiddenMakesNoCalls(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{results: ranked}
	c := &fakeCompleter{reply: "x"}
	l := &fakeLog{}
	o := newOrchestrator(t, r, c, l, Config{})

	if _, err := o.Answer(context.Background(), "other", "c1", "q"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("want Forbidden, got %v", err)
	}
	if _, err := o.Answer(context.Background(), "", "c1", "q"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("want Unauthorized, got %v", err)
	}
	if r.calls != 0 || c.calls != 0 || len(l.records) != 0 {
		t.Errorf("side effects: retrieve=%d complete=%d records=%d", r.calls, c.calls, len(l.records))
	}
}

func TestAnswer_NoContextSkipsModel(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{}
	c := &fakeCompleter{reply: "made up"}
	l := &fakeLog{}
	o := newOrchestrator(t, r, c, l, Config{})

	ans, err := o.Answer(context.Background(), "stu", "c1", "What is the meaning of life?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if c.calls != 0 {
		t.Errorf("model called %d times", c.calls)
	}
	if ans.Answer != NoContextAnswer || len(ans.Sources) != 0 {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if len(l.records) != 1 {
		t.Errorf("want the exchange recorded, got %d records", len(l.records))
	}
}

func TestAnswer_ModelFailureRecordsNothing(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{results: ranked}
	c := &fakeCompleter{err: errors.New("connection reset")}
	l := &fakeLog{}
	o := newOrchestrator(t, r, c, l, Config{})

	_, err := o.Answer(context.Background(), "stu", "c1", "q")
	if !errors.Is(err, apperr.ErrProviderUnavailable) {
		t.Fatalf("want ProviderUnavailable, got %v", err)
	}
	if len(l.records) != 0 {
		t.Errorf("want no record, got %d", len(l.records))
	}
}

func TestAnswer_LogFailureDoesNotFailAnswer(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{results: ranked}
	c := &fakeCompleter{reply: "ok"}
	l := &fakeLog{err: errors.New("disk full")}
	o := newOrchestrator(t, r, c, l, Config{})

	ans, err := o.Answer(context.Background(), "stu", "c1", "q")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Answer != "ok" {
		t.Errorf("answer = %q", ans.Answer)
	}
}

func TestAnswer_RetrievalErrorPropagates(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{err: apperr.Configuration("embedder", "OPENAI_API_KEY is not set")}
	c := &fakeCompleter{reply: "ok"}
	o := newOrchestrator(t, r, c, &fakeLog{}, Config{})

	if _, err := o.Answer(context.Background(), "stu", "c1", "q"); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("want ConfigurationError, got %v", err)
	}
	if c.calls != 0 {
		t.Errorf("model called %d times", c.calls)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{results: ranked}
	o := newOrchestrator(t, r, &fakeCompleter{}, &fakeLog{}, Config{})
	if _, err := o.Answer(context.Background(), "stu", "c1", "  "); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("want Validation, got %v", err)
	}
	if r.calls != 0 {
		t.Errorf("retrieved %d times", r.calls)
	}
}

func TestAnswer_BudgetDropsLowestRanked(t *testing.T) {
	t.Parallel()
	long := []rag.Result{
		{ChunkID: "a", Title: "a.md", Kind: "notes", Content: strings.Repeat("a", 800)},
		{ChunkID: "b", Title: "b.md", Kind: "notes", Content: strings.Repeat("b", 800)},
		{ChunkID: "c", Title: "c.md", Kind: "notes", Content: strings.Repeat("c", 800)},
	}
	r := &fakeRetriever{results: long}
	c := &fakeCompleter{reply: "ok"}
	// instructions + question take about 107 tokens and each entry 208.
	o := newOrchestrator(t, r, c, &fakeLog{}, Config{MaxContextTokens: 600})

	ans, err := o.Answer(context.Background(), "stu", "c1", "q")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(ans.Sources) != 2 || ans.Sources[0].Title != "a.md" || ans.Sources[1].Title != "b.md" {
		t.Errorf("want the two top-ranked sources, got %+v", ans.Sources)
	}
	if strings.Contains(c.gotSystem, "ccc") {
		t.Error("lowest-ranked chunk was not dropped")
	}
}

func TestRecentQueries(t *testing.T) {
	t.Parallel()
	l := &fakeLog{}
	o := newOrchestrator(t, &fakeRetriever{}, &fakeCompleter{}, l, Config{})
	ctx := context.Background()

	if _, err := o.RecentQueries(ctx, "", 5); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("want Unauthorized, got %v", err)
	}
	for _, tc := range []struct{ in, want int }{{0, 10}, {5, 5}, {500, 50}} {
		if _, err := o.RecentQueries(ctx, "stu", tc.in); err != nil {
			t.Fatalf("recent: %v", err)
		}
		if l.gotN != tc.want {
			t.Errorf("limit %d: store got %d, want %d", tc.in, l.gotN, tc.want)
		}
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	if got := Excerpt("short"); got != "short" {
		t.Errorf("short: %q", got)
	}
	exact := strings.Repeat("é", 150)
	if got := Excerpt(exact); got != exact {
		t.Error("150 runes should not be truncated")
	}
	got := Excerpt(strings.Repeat("é", 151))
	if want := strings.Repeat("é", 150) + "..."; got != want {
		t.Errorf("truncated excerpt has %d runes", len([]rune(got)))
	}
}

func TestSources_DefaultsMissingMetadata(t *testing.T) {
	t.Parallel()
	got := Sources([]rag.Result{{Content: "x"}})
	if got[0].Title != "Course Material" || got[0].Kind != "other" {
		t.Errorf("unexpected defaults: %+v", got[0])
	}
}
