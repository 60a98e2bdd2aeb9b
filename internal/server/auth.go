package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/coursechat-go/internal/identity"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// authMiddleware returns an HTTP middleware that resolves the caller from a
// Bearer token and stores the actor id in the request context.
//
// Protected routes must supply:
//
//	Authorization: Bearer <jwt>
//
// Requests missing or presenting an invalid token receive 401 Unauthorized
// with a WWW-Authenticate: Bearer challenge. The token value is never
// logged, only its presence.
func authMiddleware(v TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header",
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="coursechat"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "authorization required", Kind: "unauthorized"})
			return
		}

		actorID, err := v.Verify(token)
		if err != nil {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
				slog.String("reason", publicMessage(err)),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="coursechat" error="invalid_token"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "invalid token", Kind: "unauthorized"})
			return
		}

		ctx := identity.WithActor(r.Context(), actorID)
		ctx = logging.WithLogger(ctx, log.With(slog.String("actor_id", actorID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
