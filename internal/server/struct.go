package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/coursechat-go/internal/chat"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/rag"
	"github.com/54b3r/coursechat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat answer including retrieval and
	// generation (default: 2m). An elapsed deadline is reported as 502.
	ChatTimeout time.Duration
	// IngestTimeout bounds a synchronous reprocess (default: 10m).
	IngestTimeout time.Duration
	// MaxUploadBytes caps the multipart body of POST /api/materials
	// (default: 32 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per caller on chat and
	// search (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per caller. Defaults to 20 if zero.
	RateBurst int
	// Metrics is shared with the ingestion pipeline and chat orchestrator.
	// If nil, a fresh set is registered on MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Answerer answers course-scoped questions. *chat.Orchestrator satisfies it.
type Answerer interface {
	Answer(ctx context.Context, studentID, courseID, question string) (*chat.Answer, error)
	RecentQueries(ctx context.Context, studentID string, limit int) ([]store.QueryRecord, error)
}

// Searcher runs authorized retrieval. *rag.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, actorID, courseID, query string, k int) ([]rag.Result, error)
}

// Materials manages course materials. *ingestion.Pipeline satisfies it.
type Materials interface {
	AuthorizeUpload(ctx context.Context, actorID, courseID string) error
	Upload(ctx context.Context, actorID, courseID, fileName, kind string, r io.Reader) (*store.Material, error)
	Reingest(ctx context.Context, actorID, materialID string) (*ingestion.Report, error)
	DeleteMaterial(ctx context.Context, actorID, materialID string) error
	ListMaterials(ctx context.Context, actorID, courseID string) ([]store.Material, error)
}

// TokenVerifier resolves a bearer token to an actor id.
// *identity.Verifier satisfies it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Deps groups the services the HTTP surface delegates to.
type Deps struct {
	Chat      Answerer
	Search    Searcher
	Materials Materials
	Verifier  TokenVerifier
}

// Server is the HTTP surface of the course assistant.
type Server struct {
	// chat answers questions and lists past exchanges.
	chat Answerer
	// search runs authorized retrieval.
	search Searcher
	// materials handles uploads, reprocessing and deletion.
	materials Materials
	// verifier resolves bearer tokens on every /api route except health.
	verifier TokenVerifier
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped mux, exposed for tests via Handler.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *Metrics
	// validate checks decoded request bodies.
	validate *validator.Validate
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the student's question.
	Message string `json:"message" validate:"required,max=4000"`
	// CourseID scopes retrieval to one course.
	CourseID string `json:"courseId" validate:"required"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	Query    string `json:"query" validate:"required,max=4000"`
	CourseID string `json:"courseId" validate:"required"`
	// K is the number of results wanted; zero uses the retriever default.
	K int `json:"k" validate:"omitempty,min=1,max=50"`
}

// searchResult is one entry of a POST /api/search response.
type searchResult struct {
	ChunkID    string  `json:"chunkId"`
	MaterialID string  `json:"materialId"`
	Title      string  `json:"title"`
	Kind       string  `json:"type"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

// materialResponse describes one material and its ingestion state.
type materialResponse struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"courseId"`
	FileName   string    `json:"fileName"`
	Kind       string    `json:"materialType"`
	Processed  bool      `json:"processed"`
	ChunkCount int       `json:"chunkCount"`
	Status     string    `json:"status"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// materialListResponse is the JSON response for GET /api/courses/{id}/materials.
type materialListResponse struct {
	Materials []materialResponse `json:"materials"`
}

// chunkFailure is one failed chunk of an ingestion report.
type chunkFailure struct {
	ChunkID string `json:"chunkId"`
	Index   int    `json:"index"`
	Error   string `json:"error"`
}

// ingestResponse is the JSON response for POST /api/materials/{id}/ingest.
type ingestResponse struct {
	MaterialID string         `json:"materialId"`
	Attempted  int            `json:"attempted"`
	Stored     int            `json:"stored"`
	Failed     []chunkFailure `json:"failed"`
	Partial    bool           `json:"partial"`
}

// queryRecordResponse is one past exchange in GET /api/student/queries/recent.
type queryRecordResponse struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

// recentQueriesResponse is the JSON response for GET /api/student/queries/recent.
type recentQueriesResponse struct {
	Queries []queryRecordResponse `json:"queries"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
	// Kind is the error class (e.g. "forbidden", "validation").
	Kind string `json:"kind"`
}
