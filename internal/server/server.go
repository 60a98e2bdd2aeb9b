// Package server implements the HTTP surface of the course assistant:
// material upload and lifecycle, course-scoped search, grounded chat and
// the caller's query history, plus health, readiness and metrics.
// The server is started by the `coursechat serve` CLI command.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New constructs a Server from the provided services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	switch {
	case deps.Chat == nil:
		return nil, fmt.Errorf("server: chat service must not be nil")
	case deps.Search == nil:
		return nil, fmt.Errorf("server: search service must not be nil")
	case deps.Materials == nil:
		return nil, fmt.Errorf("server: material service must not be nil")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("server: token verifier must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	s := &Server{
		chat:      deps.Chat,
		search:    deps.Search,
		materials: deps.Materials,
		verifier:  deps.Verifier,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg),
		validate:  newValidator(),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	s.handler = requestLogger(s.log, s.routes(rl))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Must outlast a synchronous reprocess.
		cfg.WriteTimeout = cfg.IngestTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// routes registers every endpoint. Health, readiness and metrics are public;
// all other /api routes require a bearer token, and chat and search are
// additionally rate limited per caller.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	mux := http.NewServeMux()

	public := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(name, h))
	}
	protected := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(name, authMiddleware(s.verifier, h)))
	}
	limited := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(name, authMiddleware(s.verifier, rl.middleware(h))))
	}

	public("GET /api/health", "health", s.handleHealth)
	public("GET /api/ready", "ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	protected("POST /api/materials", "materials_upload", s.handleUpload)
	protected("POST /api/materials/{id}/ingest", "materials_ingest", s.handleIngest)
	protected("DELETE /api/materials/{id}", "materials_delete", s.handleDeleteMaterial)
	protected("GET /api/courses/{id}/materials", "materials_list", s.handleListMaterials)
	protected("GET /api/student/queries/recent", "queries_recent", s.handleRecentQueries)
	limited("POST /api/search", "search", s.handleSearch)
	limited("POST /api/chat", "chat", s.handleChat)

	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("coursechat server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
