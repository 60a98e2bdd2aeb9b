package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/ingestion"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// Metrics holds all Prometheus metrics owned by the service.
// One instance is created per process and shared by the server, the
// ingestion pipeline and the chat orchestrator; tests inject a fresh
// prometheus.Registry so the default one stays untouched.
type Metrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "timeout", or the error kind.
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each answer.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveRequests is the number of /api/chat answers in flight.
	chatActiveRequests prometheus.Gauge

	// chatRetrievedChunks records how many chunks each answer was built on.
	chatRetrievedChunks prometheus.Histogram

	// ingestionRunsTotal counts ingestion runs by outcome: "processed",
	// "partial", or the error kind.
	ingestionRunsTotal *prometheus.CounterVec

	// ingestionChunksTotal counts chunks by result: "stored" or "failed".
	ingestionChunksTotal *prometheus.CounterVec

	// uploadsTotal counts accepted material uploads.
	uploadsTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers all metrics against reg and returns them.
// promauto.With(reg) is used so that each call registers into the provided
// registry rather than the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat answers including retrieval and generation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatActiveRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "coursechat",
			Subsystem: "chat",
			Name:      "active_requests",
			Help:      "Number of /api/chat answers currently in flight.",
		}),

		chatRetrievedChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "chat",
			Name:      "retrieved_chunks",
			Help:      "Number of course chunks retrieved per answered question.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),

		ingestionRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestionChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks processed by ingestion, partitioned by result.",
		}, []string{"result"}),

		uploadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "materials",
			Name:      "uploads_total",
			Help:      "Total number of accepted material uploads.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursechat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursechat",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// newServerMetrics returns cfg.Metrics or registers a fresh set on reg.
func newServerMetrics(cfg *Config) *Metrics {
	if cfg.Metrics != nil {
		return cfg.Metrics
	}
	return NewMetrics(cfg.MetricsRegistry)
}

// ObserveIngestion matches ingestion.Config.OnComplete.
func (m *Metrics) ObserveIngestion(_ string, report *ingestion.Report, err error) {
	outcome := "processed"
	switch {
	case report.Partial():
		outcome = "partial"
	case err != nil:
		outcome = apperr.KindOf(err).String()
	}
	m.ingestionRunsTotal.WithLabelValues(outcome).Inc()
	if report != nil {
		m.ingestionChunksTotal.WithLabelValues("stored").Add(float64(report.Stored))
		m.ingestionChunksTotal.WithLabelValues("failed").Add(float64(len(report.Failed)))
	}
}

// ObserveAnswer matches chat.Config.OnAnswer.
func (m *Metrics) ObserveAnswer(retrieved int, err error) {
	if err == nil {
		m.chatRetrievedChunks.Observe(float64(retrieved))
	}
}

// instrument records request count and latency for the named handler.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
