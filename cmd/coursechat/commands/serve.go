package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/coursechat-go/internal/identity"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/server"
	"github.com/54b3r/coursechat-go/internal/tracing"
	"github.com/54b3r/coursechat-go/internal/version"
)

// NewServeCmd constructs the `coursechat serve` command, which starts the
// HTTP API and the background ingestion workers.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coursechat HTTP API and ingestion workers",
		Long: `Start the coursechat HTTP API.

Uploaded materials are queued and processed by background workers; the
queue is in-process by default (INGEST_QUEUE=memory) or shared through Redis
(INGEST_QUEUE=redis, REDIS_URL). Materials left unfinished by a previous run
are re-queued on startup.

Callers authenticate with an HS256 bearer token signed with
COURSECHAT_JWT_SECRET (see 'coursechat token').

Examples:
  coursechat serve
  coursechat serve --port 9090 --workers 4
  VECTOR_STORE=qdrant MODEL_PROVIDER=openai coursechat serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("version", version.String()),
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
			)

			// Langfuse tracing is opt-in and a no-op when keys are absent.
			flush, ok := tracing.Install(tracing.ConfigFromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			a, err := openApp(ctx, log, appOptions{
				chat:     true,
				queue:    true,
				onIngest: metrics.ObserveIngestion,
				onAnswer: metrics.ObserveAnswer,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = a.Close() }()

			verifier, err := identity.NewVerifier([]byte(a.rt.JWTSecret), a.rt.JWTIssuer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = a.rt.Host
			}
			if !cmd.Flags().Changed("port") {
				port = a.rt.Port
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.rt.IngestWorkers
			}

			srv, err := server.New(server.Deps{
				Chat:      a.chat,
				Search:    a.retriever,
				Materials: a.pipeline,
				Verifier:  verifier,
			}, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        a.pingers,
				RateLimit:      a.rt.RateLimit,
				RateBurst:      a.rt.RateBurst,
				MaxUploadBytes: a.rt.MaxUploadBytes,
				Metrics:        metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			worker := ingestion.NewWorker(a.pipeline, a.queue, a.store, workers)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(gctx) })
			g.Go(func() error { return srv.Start(gctx) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default from COURSECHAT_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default from COURSECHAT_PORT)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "Concurrent ingestion workers (default from INGEST_WORKERS)")

	return cmd
}
