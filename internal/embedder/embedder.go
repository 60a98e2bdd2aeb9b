// Package embedder converts text into dense vectors through an external
// embedding provider. Backends (Ollama over plain HTTP, OpenAI and Azure
// OpenAI through the official SDK) implement Embedder; Client wraps a
// backend with pacing, error classification and the per-item fallback used
// by ingestion.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// Embedder converts texts into vectors aligned 1:1 with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// StatusError is a non-success HTTP response from an embedding backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying: rate limiting
// or a server-side failure.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError is a failure to reach the backend at all.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s embedder: request failed: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classify maps a backend error onto the apperr taxonomy. Unreachable
// providers, rate limits, 5xx responses and deadlines become
// ProviderUnavailable; other failures are returned wrapped but unclassified
// so a single malformed input can be isolated.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Transient() {
			return apperr.ProviderUnavailable(op, err)
		}
		if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
			return apperr.Wrap(apperr.KindConfiguration, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.ProviderUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Result is the outcome for one input of EmbedEach: Vector on success,
// Err otherwise.
type Result struct {
	Index  int
	Vector []float32
	Err    error
}

// Embedded reports whether the item produced a vector.
func (r Result) Embedded() bool { return r.Err == nil }

// ClientOptions tunes a Client. Zero values select the defaults.
type ClientOptions struct {
	// Retries is the per-item retry budget after a failed batch. Default 2.
	// Negative disables retries.
	Retries int
	// Concurrency bounds in-flight per-item requests. Default 4.
	Concurrency int
	// RequestsPerSecond paces calls to the provider. Zero means unlimited.
	RequestsPerSecond float64
	// InitialBackoff is the first retry delay. Default 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps a single retry delay. Default 5s.
	MaxBackoff time.Duration
}

// Client wraps an Embedder with pacing, error classification and the
// isolate-and-continue fallback. It is safe for concurrent use.
type Client struct {
	backend     Embedder
	limiter     *rate.Limiter
	retries     int
	concurrency int
	initial     time.Duration
	maxInterval time.Duration
}

// NewClient wraps backend.
func NewClient(backend Embedder, opts ClientOptions) *Client {
	c := &Client{
		backend:     backend,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		retries:     opts.Retries,
		concurrency: opts.Concurrency,
		initial:     opts.InitialBackoff,
		maxInterval: opts.MaxBackoff,
	}
	if c.retries == 0 {
		c.retries = 2
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	if c.initial <= 0 {
		c.initial = 500 * time.Millisecond
	}
	if c.maxInterval <= 0 {
		c.maxInterval = 5 * time.Second
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Embed performs one paced batch call. Vectors are aligned 1:1 with texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedder.Embed"
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.ProviderUnavailable(op, err)
	}
	vecs, err := c.backend.Embed(ctx, texts)
	if err != nil {
		return nil, classify(op, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d vectors, got %d", op, len(texts), len(vecs))
	}
	return vecs, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedEach embeds texts with one batch call, falling back to per-item
// calls with retries when the batch fails. The result always has one entry
// per input, in input order. A ConfigurationError from the batch is not
// retried per item; every entry carries it.
func (c *Client) EmbedEach(ctx context.Context, texts []string) []Result {
	out := make([]Result, len(texts))
	for i := range out {
		out[i].Index = i
	}
	if len(texts) == 0 {
		return out
	}

	vecs, err := c.Embed(ctx, texts)
	if err == nil {
		for i := range out {
			out[i].Vector = vecs[i]
		}
		return out
	}
	if errors.Is(err, apperr.ErrConfiguration) || ctx.Err() != nil {
		for i := range out {
			out[i].Err = err
		}
		return out
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(c.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.embedWithRetry(ctx, text)
			mu.Lock()
			out[i].Vector, out[i].Err = vec, err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// embedWithRetry embeds one text, retrying up to c.retries times with
// exponential backoff.
func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.initial),
		backoff.WithMaxInterval(c.maxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	var vec []float32
	err := backoff.Retry(func() error {
		v, err := c.EmbedOne(ctx, text)
		if err != nil {
			if errors.Is(err, apperr.ErrConfiguration) {
				return backoff.Permanent(err)
			}
			return err
		}
		vec = v
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return vec, nil
}
