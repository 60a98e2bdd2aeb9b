package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/chat"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/store"
)

// ---------------------------------------------------------------------------
// POST /api/chat
// ---------------------------------------------------------------------------

func TestHandleChat_Success(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.chat.answer = &chat.Answer{
		Answer:  "The midterm is in week 7.",
		Sources: []chat.Source{{Title: "syllabus.pdf", Kind: "syllabus", Excerpt: "Midterm: week 7"}},
	}

	w := ts.postJSON(t, "/api/chat", "stu", `{"message":"When is the midterm?","courseId":"c1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Response string `json:"response"`
		Sources  []struct {
			Title   string `json:"title"`
			Type    string `json:"type"`
			Excerpt string `json:"excerpt"`
		} `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Response != "The midterm is in week 7." {
		t.Errorf("response = %q", body.Response)
	}
	if len(body.Sources) != 1 || body.Sources[0].Type != "syllabus" {
		t.Errorf("unexpected sources: %+v", body.Sources)
	}
	if ts.chat.gotStudent != "stu" || ts.chat.gotCourse != "c1" {
		t.Errorf("answer called with student=%q course=%q", ts.chat.gotStudent, ts.chat.gotCourse)
	}
}

func TestHandleChat_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	cases := map[string]string{
		"invalid json":     `not-json`,
		"missing message":  `{"courseId":"c1"}`,
		"missing courseId": `{"message":"hi"}`,
		"message too long": `{"courseId":"c1","message":"` + strings.Repeat("a", 4001) + `"}`,
	}
	for name, body := range cases {
		w := ts.postJSON(t, "/api/chat", "stu", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
	if ts.chat.gotQuestion != "" {
		t.Error("chat service called for an invalid request")
	}
}

func TestHandleChat_ValidationNamesJSONFields(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.postJSON(t, "/api/chat", "stu", `{"message":"hi"}`)
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Error, "courseId") {
		t.Errorf("error does not name the field: %q", resp.Error)
	}
	if resp.Kind != "validation" {
		t.Errorf("kind = %q", resp.Kind)
	}
}

func TestHandleChat_ErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Forbidden("authz", "not enrolled in this course"), http.StatusForbidden},
		{apperr.NotFound("authz", "course not found"), http.StatusNotFound},
		{apperr.Configuration("embedder", "OPENAI_API_KEY is not set"), http.StatusServiceUnavailable},
		{apperr.ProviderUnavailable("provider", nil), http.StatusBadGateway},
	}
	for _, tc := range cases {
		ts := newTestServer(t, nil)
		ts.chat.err = tc.err
		w := ts.postJSON(t, "/api/chat", "stu", `{"message":"q","courseId":"c1"}`)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestHandleChat_TimeoutIsBadGateway(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &Config{ChatTimeout: 20 * time.Millisecond})
	ts.chat.block = true

	w := ts.postJSON(t, "/api/chat", "stu", `{"message":"q","courseId":"c1"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if got := counterValue(t, ts.reg, "coursechat_chat_requests_total", "outcome", "timeout"); got != 1 {
		t.Errorf("timeout counter = %v", got)
	}
}

func TestHandleChat_RequiresToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	w := ts.postJSON(t, "/api/chat", "", `{"message":"q","courseId":"c1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if ts.chat.gotQuestion != "" {
		t.Error("chat service called without a token")
	}
}

// ---------------------------------------------------------------------------
// POST /api/search
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.search.results = []rag.Result{
		{ChunkID: "m1-chunk-0", MaterialID: "m1", Title: "notes.md", Kind: "notes", Content: "sets", Score: 0.9},
		{ChunkID: "m1-chunk-1", MaterialID: "m1", Title: "notes.md", Kind: "notes", Content: "maps", Score: 0.7},
	}

	w := ts.postJSON(t, "/api/search", "stu", `{"query":"sets","courseId":"c1","k":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].ChunkID != "m1-chunk-0" {
		t.Errorf("rank order not preserved: %+v", resp.Results)
	}
	if ts.search.gotActor != "stu" || ts.search.gotK != 2 {
		t.Errorf("search called with actor=%q k=%d", ts.search.gotActor, ts.search.gotK)
	}
}

func TestHandleSearch_RejectsBadK(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	w := ts.postJSON(t, "/api/search", "stu", `{"query":"sets","courseId":"c1","k":500}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleSearch_Forbidden(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.search.err = apperr.Forbidden("authz", "not enrolled in this course")
	w := ts.postJSON(t, "/api/search", "outsider", `{"query":"sets","courseId":"c1"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/student/queries/recent
// ---------------------------------------------------------------------------

func TestHandleRecentQueries(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.chat.records = []store.QueryRecord{
		{ID: "q2", CourseID: "c1", Question: "second", Answer: "b"},
		{ID: "q1", CourseID: "c1", Question: "first", Answer: "a"},
	}

	w := ts.do(t, http.MethodGet, "/api/student/queries/recent?limit=5", "stu", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp recentQueriesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Queries) != 2 || resp.Queries[0].ID != "q2" {
		t.Errorf("unexpected queries: %+v", resp.Queries)
	}
	if ts.chat.gotLimit != 5 {
		t.Errorf("limit = %d", ts.chat.gotLimit)
	}

	if w := ts.do(t, http.MethodGet, "/api/student/queries/recent?limit=abc", "stu", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}
