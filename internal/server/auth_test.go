package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/coursechat-go/internal/identity"
)

// actorEcho writes the actor id found in the request context.
var actorEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(identity.ActorFromContext(r.Context())))
})

// TestAuthMiddleware_MissingHeader verifies that a request with no
// Authorization header receives 401 and never reaches the handler.
func TestAuthMiddleware_MissingHeader(t *testing.T) {
	t.Parallel()

	h := authMiddleware(fakeVerifier{}, actorEcho)
	req := httptest.NewRequest(http.MethodGet, "/api/courses/c1/materials", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header on 401")
	}
}

// TestAuthMiddleware_InvalidToken verifies that a token the verifier
// rejects receives 401 with an invalid_token challenge.
func TestAuthMiddleware_InvalidToken(t *testing.T) {
	t.Parallel()

	h := authMiddleware(fakeVerifier{}, actorEcho)
	req := httptest.NewRequest(http.MethodGet, "/api/courses/c1/materials", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="coursechat" error="invalid_token"` {
		t.Errorf("unexpected challenge %q", got)
	}
}

// TestAuthMiddleware_ValidToken verifies that the resolved actor reaches
// the downstream handler through the context.
func TestAuthMiddleware_ValidToken(t *testing.T) {
	t.Parallel()

	h := authMiddleware(fakeVerifier{}, actorEcho)
	req := httptest.NewRequest(http.MethodGet, "/api/courses/c1/materials", nil)
	req.Header.Set("Authorization", "Bearer tok-stu")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "stu" {
		t.Errorf("actor = %q, want stu", w.Body.String())
	}
}

// TestAuthMiddleware_CaseInsensitiveScheme verifies that "bearer" (lowercase)
// is accepted as well as "Bearer".
func TestAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	t.Parallel()

	h := authMiddleware(fakeVerifier{}, actorEcho)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "bearer tok-prof")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with lowercase bearer scheme, got %d", w.Code)
	}
}

// TestAuthMiddleware_MalformedHeader verifies that a non-Bearer Authorization
// header (e.g. Basic auth) is rejected with 401.
func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	t.Parallel()

	h := authMiddleware(fakeVerifier{}, actorEcho)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for Basic auth header, got %d", w.Code)
	}
}

// TestRoutes_PublicAndProtected verifies that health and readiness need no
// token while every other API route does.
func TestRoutes_PublicAndProtected(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	for _, path := range []string{"/api/health", "/api/ready"} {
		if w := ts.do(t, http.MethodGet, path, "", nil, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}

	protected := []struct{ method, path string }{
		{http.MethodPost, "/api/materials"},
		{http.MethodPost, "/api/materials/m1/ingest"},
		{http.MethodDelete, "/api/materials/m1"},
		{http.MethodGet, "/api/courses/c1/materials"},
		{http.MethodGet, "/api/student/queries/recent"},
		{http.MethodPost, "/api/search"},
		{http.MethodPost, "/api/chat"},
	}
	for _, r := range protected {
		if w := ts.do(t, r.method, r.path, "", nil, ""); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", r.method, r.path, w.Code)
		}
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got := bearerToken(req)
		if got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
