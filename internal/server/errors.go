package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// statusFor maps an error kind onto its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	case apperr.KindProviderUnavailable:
		return http.StatusBadGateway
	case apperr.KindPartialIngestion:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the client-facing text of err. Internal failures and
// wrapped provider causes are logged, not returned.
func publicMessage(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal {
		return "internal error"
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

// writeError logs err and writes the mapped JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="coursechat"`)
	}
	writeJSON(w, r, status, errorResponse{Error: publicMessage(err), Kind: apperr.KindOf(err).String()})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// decodeBody decodes a JSON request body into v and validates it. Every
// failure is a Validation error naming the offending fields.
func (s *Server) decodeBody(r *http.Request, v any) error {
	const op = "server.decode"
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation(op, "invalid request body")
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return apperr.Validation(op, "invalid fields: "+strings.Join(fields, ", "))
		}
		return apperr.Validation(op, err.Error())
	}
	return nil
}

// boundary translates a request-scoped deadline into a provider failure.
// The caller applies the timeout; services never see it as their own error.
func boundary(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return apperr.ProviderUnavailable(op, err)
	}
	return err
}
