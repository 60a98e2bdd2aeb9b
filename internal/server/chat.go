package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/identity"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// handleChat handles POST /api/chat. The answer is bounded by ChatTimeout;
// an elapsed deadline is reported as a provider failure.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeOf(err)).Inc()
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveRequests.Inc()
	start := time.Now()
	ans, err := s.chat.Answer(ctx, identity.ActorFromContext(ctx), req.CourseID, req.Message)
	err = boundary(ctx, "server.chat", err)
	s.metrics.chatActiveRequests.Dec()

	outcome := outcomeOf(err)
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logging.FromContext(ctx).Error("chat: request timed out",
				slog.Duration("timeout", s.cfg.ChatTimeout),
			)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ans)
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.search.Search(r.Context(), identity.ActorFromContext(r.Context()), req.CourseID, req.Query, req.K)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := searchResponse{Results: make([]searchResult, len(results))}
	for i, res := range results {
		resp.Results[i] = searchResult{
			ChunkID:    res.ChunkID,
			MaterialID: res.MaterialID,
			Title:      res.Title,
			Kind:       res.Kind,
			Content:    res.Content,
			Score:      res.Score,
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleRecentQueries handles GET /api/student/queries/recent?limit=N.
func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, apperr.Validation("server.recent", "limit must be an integer"))
			return
		}
		limit = n
	}
	records, err := s.chat.RecentQueries(r.Context(), identity.ActorFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := recentQueriesResponse{Queries: make([]queryRecordResponse, len(records))}
	for i, q := range records {
		resp.Queries[i] = queryRecordResponse{
			ID:        q.ID,
			CourseID:  q.CourseID,
			Question:  q.Question,
			Answer:    q.Answer,
			CreatedAt: q.CreatedAt,
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// outcomeOf is the metrics label for a chat result.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return apperr.KindOf(err).String()
	}
}
