package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/store"
)

// multipartUpload builds a POST /api/materials body.
func multipartUpload(t *testing.T, fields map[string]string, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload_Accepted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	body, ct := multipartUpload(t, map[string]string{"courseId": "c1", "materialType": "syllabus"}, "syllabus.txt", "Midterm: week 7")
	w := ts.do(t, http.MethodPost, "/api/materials", "prof", body, ct)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp materialResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "m-new" || resp.Status != string(store.StatusUploaded) || resp.Processed {
		t.Errorf("unexpected material: %+v", resp)
	}
	if ts.materials.gotCourse != "c1" || ts.materials.gotKind != "syllabus" || ts.materials.gotBody != "Midterm: week 7" {
		t.Errorf("upload called with course=%q kind=%q body=%q",
			ts.materials.gotCourse, ts.materials.gotKind, ts.materials.gotBody)
	}
}

func TestHandleUpload_StripsDirectories(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	body, ct := multipartUpload(t, map[string]string{"courseId": "c1"}, "../../etc/notes.md", "x")
	if w := ts.do(t, http.MethodPost, "/api/materials", "prof", body, ct); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if ts.materials.gotFileName != "notes.md" {
		t.Errorf("file name = %q", ts.materials.gotFileName)
	}
}

func TestHandleUpload_MissingFile(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	body, ct := multipartUpload(t, map[string]string{"courseId": "c1"}, "", "")
	if w := ts.do(t, http.MethodPost, "/api/materials", "prof", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &Config{MaxUploadBytes: 1024})

	body, ct := multipartUpload(t, map[string]string{"courseId": "c1"}, "big.txt", strings.Repeat("x", 4096))
	if w := ts.do(t, http.MethodPost, "/api/materials", "prof", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleUpload_Forbidden(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.materials.authErr = apperr.Forbidden("authz", "only the owning professor may manage this course")

	body, ct := multipartUpload(t, map[string]string{"courseId": "c1"}, "notes.txt", strings.Repeat("x", 64<<10))
	if w := ts.do(t, http.MethodPost, "/api/materials", "stu", body, ct); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if ts.materials.uploads != 0 {
		t.Errorf("file stored for a forbidden caller (%d uploads)", ts.materials.uploads)
	}
	// The handler stops reading once the caller is refused, so most of the
	// file part is never consumed.
	if body.Len() < 32<<10 {
		t.Errorf("handler read %d bytes of the refused upload", 64<<10-body.Len())
	}
}

func TestHandleUpload_CourseMustPrecedeFile(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("x"))
	_ = mw.WriteField("courseId", "c1")
	_ = mw.Close()

	if w := ts.do(t, http.MethodPost, "/api/materials", "prof", &buf, mw.FormDataContentType()); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if ts.materials.uploads != 0 {
		t.Errorf("upload called without a course")
	}
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.materials.report = &ingestion.Report{MaterialID: "m1", Attempted: 3, Stored: 3}

	w := ts.do(t, http.MethodPost, "/api/materials/m1/ingest", "prof", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stored != 3 || resp.Partial || len(resp.Failed) != 0 {
		t.Errorf("unexpected report: %+v", resp)
	}
}

func TestHandleIngest_PartialIsMultiStatus(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	report := &ingestion.Report{MaterialID: "m1", Attempted: 3, Stored: 2,
		Failed: []ingestion.ChunkFailure{{ChunkID: "m1-chunk-1", Index: 1, Err: errors.New("rate limited")}}}
	ts.materials.report = report
	ts.materials.err = apperr.New(apperr.KindPartialIngestion, "ingestion.IngestMaterial", report.Summary())

	w := ts.do(t, http.MethodPost, "/api/materials/m1/ingest", "prof", nil, "")
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", w.Code)
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Partial || len(resp.Failed) != 1 || resp.Failed[0].ChunkID != "m1-chunk-1" || resp.Failed[0].Error != "rate limited" {
		t.Errorf("unexpected report: %+v", resp)
	}
}

func TestHandleIngest_ConfigurationError(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.materials.err = apperr.Configuration("embedder", "OPENAI_API_KEY is not set")

	if w := ts.do(t, http.MethodPost, "/api/materials/m1/ingest", "prof", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestHandleDeleteMaterial(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	if w := ts.do(t, http.MethodDelete, "/api/materials/m1", "prof", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ts.materials.deleted) != 1 || ts.materials.deleted[0] != "m1" {
		t.Errorf("deleted = %v", ts.materials.deleted)
	}

	ts.materials.err = apperr.NotFound("store", "material not found")
	if w := ts.do(t, http.MethodDelete, "/api/materials/gone", "prof", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleListMaterials(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.materials.list = []store.Material{
		{ID: "m2", CourseID: "c1", FileName: "week2.md", Kind: store.KindNotes, Status: store.StatusFailed, LastError: "provider unavailable"},
		{ID: "m1", CourseID: "c1", FileName: "syllabus.pdf", Kind: store.KindSyllabus, Processed: true, ChunkCount: 4, Status: store.StatusProcessed},
	}

	w := ts.do(t, http.MethodGet, "/api/courses/c1/materials", "stu", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp materialListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Materials) != 2 {
		t.Fatalf("want 2 materials, got %d", len(resp.Materials))
	}
	if resp.Materials[0].Status != "failed" || resp.Materials[0].LastError == "" {
		t.Errorf("failure state not exposed: %+v", resp.Materials[0])
	}
	if !resp.Materials[1].Processed || resp.Materials[1].ChunkCount != 4 || resp.Materials[1].Kind != "syllabus" {
		t.Errorf("unexpected material: %+v", resp.Materials[1])
	}
}
