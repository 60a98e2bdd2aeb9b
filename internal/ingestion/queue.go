package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("ingestion: queue closed")

// Queue carries material IDs from upload to the ingestion worker.
type Queue interface {
	// Enqueue adds materialID to the queue.
	Enqueue(ctx context.Context, materialID string) error
	// Dequeue blocks until an ID is available or ctx is done.
	Dequeue(ctx context.Context) (string, error)
	// Close releases the queue.
	Close() error
}

// MemoryQueue is an in-process Queue backed by a buffered channel. Items
// are lost on restart; the worker recovers them from material status.
type MemoryQueue struct {
	items chan string
	done  chan struct{}
}

// NewMemoryQueue returns a MemoryQueue holding up to size pending IDs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{items: make(chan string, size), done: make(chan struct{})}
}

// Enqueue blocks while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, materialID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.items <- materialID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.items:
		return id, nil
	case <-q.done:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of pending IDs.
func (q *MemoryQueue) Len() int { return len(q.items) }

// Close unblocks pending Dequeue calls. It is safe to call more than once.
func (q *MemoryQueue) Close() error {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	return nil
}

// RedisQueue is a Queue on a Redis list: LPUSH to enqueue, BRPOP to
// dequeue, so several workers may share one list.
type RedisQueue struct {
	rdb  *goredis.Client
	key  string
	poll time.Duration
}

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	// URL is a redis:// connection URL. Addr is used when empty.
	URL string
	// Addr is host:port.
	Addr string
	// Key is the list name. Default "coursechat:ingest".
	Key string
}

// NewRedisQueue connects and pings Redis.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	var opts *goredis.Options
	switch {
	case cfg.URL != "":
		o, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("ingestion: parse redis url: %w", err)
		}
		opts = o
	case cfg.Addr != "":
		opts = &goredis.Options{Addr: cfg.Addr, DialTimeout: 5 * time.Second}
	default:
		return nil, fmt.Errorf("ingestion: redis url or addr is required")
	}
	if cfg.Key == "" {
		cfg.Key = "coursechat:ingest"
	}

	rdb := goredis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ingestion: redis ping: %w", err)
	}
	return &RedisQueue{rdb: rdb, key: cfg.Key, poll: 5 * time.Second}, nil
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, materialID string) error {
	if err := q.rdb.LPush(ctx, q.key, materialID).Err(); err != nil {
		return fmt.Errorf("ingestion: redis lpush: %w", err)
	}
	return nil
}

// Dequeue polls BRPOP until an item arrives or ctx is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		vals, err := q.rdb.BRPop(ctx, q.poll, q.key).Result()
		switch {
		case err == nil:
			// BRPOP returns [key, value].
			if len(vals) == 2 {
				return vals[1], nil
			}
		case errors.Is(err, goredis.Nil):
			// poll timeout
		case ctx.Err() != nil:
			return "", ctx.Err()
		case errors.Is(err, goredis.ErrClosed):
			return "", ErrQueueClosed
		default:
			return "", fmt.Errorf("ingestion: redis brpop: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// Name returns the dependency label used in readiness responses.
func (q *RedisQueue) Name() string { return "redis" }

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (q *RedisQueue) Close() error { return q.rdb.Close() }
