package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/store"
)

// PendingLister lists materials whose ingestion never reached a terminal state.
type PendingLister interface {
	PendingMaterials(ctx context.Context) ([]store.Material, error)
}

// Ingester runs one ingestion.
type Ingester interface {
	IngestMaterial(ctx context.Context, materialID string) (*Report, error)
}

// Worker drains a Queue into an Ingester.
type Worker struct {
	ingester    Ingester
	queue       Queue
	pending     PendingLister
	concurrency int

	// retryInitial and retryMax bound the wait after a failed Dequeue.
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewWorker constructs a Worker. pending may be nil to skip recovery.
// concurrency below 1 runs a single loop.
func NewWorker(ingester Ingester, queue Queue, pending PendingLister, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		ingester:     ingester,
		queue:        queue,
		pending:      pending,
		concurrency:  concurrency,
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

// Recover re-enqueues every material with a non-terminal status and returns
// how many were enqueued.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	if w.pending == nil {
		return 0, nil
	}
	ms, err := w.pending.PendingMaterials(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingestion: list pending: %w", err)
	}
	for i, m := range ms {
		if err := w.queue.Enqueue(ctx, m.ID); err != nil {
			return i, fmt.Errorf("ingestion: re-enqueue %s: %w", m.ID, err)
		}
	}
	return len(ms), nil
}

// Run recovers pending materials and then processes queue items until ctx
// is done or the queue is closed. Ingestion failures are logged and do not
// stop the worker; their outcome is on the material row. Other queue errors
// are logged and retried with exponential backoff.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	n, err := w.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info("re-enqueued pending materials", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		g.Go(func() error { return w.loop(gctx, log.With("worker", i)) })
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, log *slog.Logger) error {
	retry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(w.retryInitial),
		backoff.WithMaxInterval(w.retryMax),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrQueueClosed) {
				return err
			}
			wait := retry.NextBackOff()
			log.Warn("dequeue failed, retrying", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		rctx := logging.WithLogger(ctx, log)
		report, err := w.ingester.IngestMaterial(rctx, id)
		switch {
		case err != nil && report.Partial():
			log.Warn("ingestion partial", "material_id", id, "summary", report.Summary())
		case err != nil:
			log.Error("ingestion failed", "material_id", id, "error", err)
		default:
			log.Info("ingestion complete", "material_id", id, "stored", report.Stored)
		}
	}
}
