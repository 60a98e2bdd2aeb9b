package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/identity"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/store"
)

// maxFieldBytes bounds each non-file form field of an upload.
const maxFieldBytes = 4 << 10

// handleUpload handles POST /api/materials. The body is multipart with
// "courseId" and optional "materialType" fields followed by a "file" part.
// The body is streamed: the caller is authorized for the course before the
// file is read, and the file goes straight to the object store. The
// material is queued and ingestion runs asynchronously, so the response is
// 202 with the material in the uploaded state.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "server.upload"
	ctx := r.Context()
	actor := identity.ActorFromContext(ctx)

	body := &uploadBody{ReadCloser: http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)}
	r.Body = body
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, apperr.Validation(op, "invalid multipart body"))
		return
	}

	fields := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, r, apperr.Validation(op, "file is required"))
			return
		}
		if err != nil {
			writeError(w, r, body.validation(op, "invalid multipart body"))
			return
		}
		if part.FormName() != "file" {
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				writeError(w, r, body.validation(op, "invalid multipart body"))
				return
			}
			fields[part.FormName()] = string(v)
			continue
		}

		m, err := s.storeUpload(ctx, actor, fields, part)
		_ = part.Close()
		if body.tooLarge {
			err = apperr.Validation(op, "upload exceeds the size limit")
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.metrics.uploadsTotal.Inc()
		logging.FromContext(ctx).Info("material uploaded",
			slog.String("material_id", m.ID),
			slog.String("course_id", m.CourseID),
			slog.String("kind", string(m.Kind)),
		)
		writeJSON(w, r, http.StatusAccepted, toMaterialResponse(m))
		return
	}
}

// storeUpload authorizes the caller for the course named by the fields read
// so far, then streams the file part into the pipeline.
func (s *Server) storeUpload(ctx context.Context, actor string, fields map[string]string, part *multipart.Part) (*store.Material, error) {
	const op = "server.upload"
	if part.FileName() == "" {
		return nil, apperr.Validation(op, "file is required")
	}
	courseID := fields["courseId"]
	if courseID == "" {
		return nil, apperr.Validation(op, "courseId must be sent before the file")
	}
	if err := s.materials.AuthorizeUpload(ctx, actor, courseID); err != nil {
		return nil, err
	}
	return s.materials.Upload(ctx, actor, courseID, filepath.Base(part.FileName()), fields["materialType"], part)
}

// uploadBody records whether the size limit was hit while reading.
type uploadBody struct {
	io.ReadCloser
	tooLarge bool
}

func (b *uploadBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.tooLarge = true
	}
	return n, err
}

// validation reports the size limit when it was hit, msg otherwise.
func (b *uploadBody) validation(op, msg string) error {
	if b.tooLarge {
		return apperr.Validation(op, "upload exceeds the size limit")
	}
	return apperr.Validation(op, msg)
}

// handleIngest handles POST /api/materials/{id}/ingest, a synchronous
// reprocess. A partial run answers 207 with the report.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	report, err := s.materials.Reingest(ctx, identity.ActorFromContext(ctx), r.PathValue("id"))
	err = boundary(ctx, "server.ingest", err)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, toIngestResponse(report))
	case apperr.KindOf(err) == apperr.KindPartialIngestion && report != nil:
		logging.FromContext(ctx).Warn("partial ingestion", slog.String("summary", report.Summary()))
		writeJSON(w, r, http.StatusMultiStatus, toIngestResponse(report))
	default:
		writeError(w, r, err)
	}
}

// handleDeleteMaterial handles DELETE /api/materials/{id}.
func (s *Server) handleDeleteMaterial(w http.ResponseWriter, r *http.Request) {
	if err := s.materials.DeleteMaterial(r.Context(), identity.ActorFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMaterials handles GET /api/courses/{id}/materials.
func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	ms, err := s.materials.ListMaterials(r.Context(), identity.ActorFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := materialListResponse{Materials: make([]materialResponse, len(ms))}
	for i := range ms {
		resp.Materials[i] = toMaterialResponse(&ms[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func toMaterialResponse(m *store.Material) materialResponse {
	return materialResponse{
		ID:         m.ID,
		CourseID:   m.CourseID,
		FileName:   m.FileName,
		Kind:       string(m.Kind),
		Processed:  m.Processed,
		ChunkCount: m.ChunkCount,
		Status:     string(m.Status),
		LastError:  m.LastError,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toIngestResponse(r *ingestion.Report) ingestResponse {
	out := ingestResponse{
		MaterialID: r.MaterialID,
		Attempted:  r.Attempted,
		Stored:     r.Stored,
		Failed:     make([]chunkFailure, len(r.Failed)),
		Partial:    r.Partial(),
	}
	for i, f := range r.Failed {
		out.Failed[i] = chunkFailure{ChunkID: f.ChunkID, Index: f.Index, Error: f.Reason()}
	}
	return out
}
