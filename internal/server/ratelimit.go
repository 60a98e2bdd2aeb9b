package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/coursechat-go/internal/identity"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// defaultRateLimit is the number of requests per second allowed per caller
// on chat and search when no explicit limit is configured.
const defaultRateLimit = 10

// defaultRateBurst is the maximum burst size per caller when no explicit
// burst is configured.
const defaultRateBurst = 20

// callerLimiter holds a token-bucket rate limiter and the last time it was
// seen, used to evict stale entries from the limiter map.
type callerLimiter struct {
	// limiter is the per-caller token bucket.
	limiter *rate.Limiter
	// lastSeen is updated on every request from this caller for eviction.
	lastSeen time.Time
}

// rateLimiter is an HTTP middleware that enforces a per-caller token-bucket
// rate limit. Authenticated callers are keyed by actor id so students behind
// one campus NAT do not share a bucket; anonymous callers are keyed by IP.
// Stale entries are evicted every minute to bound memory usage.
type rateLimiter struct {
	// mu protects the limiters map.
	mu sync.Mutex
	// limiters maps a caller key to its state.
	limiters map[string]*callerLimiter
	// rps is the sustained request rate allowed per caller (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per caller.
	burst int
	// log is the structured logger for rate-limit events.
	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter and starts the background eviction
// goroutine. The goroutine exits when the returned stop function is called.
// rps and burst are the per-caller token-bucket parameters.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limiters: make(map[string]*callerLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

// getLimiter returns the limiter for key, creating one if it does not
// already exist.
func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &callerLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// evictLoop removes entries that have not been seen for more than 5 minutes.
// It runs in a background goroutine and exits when stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict removes entries not seen for 5 minutes.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// middleware returns an http.Handler that enforces the rate limit before
// delegating to next. Requests that exceed the limit receive 429 Too Many
// Requests with a Retry-After header and a structured WARN log entry.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		limiter := rl.getLimiter(key)

		if !limiter.Allow() {
			log := logging.FromContext(r.Context())
			log.Warn("rate limit exceeded",
				slog.String("caller", key),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the caller: "actor:<id>" once authenticated,
// otherwise "ip:<remote address>".
func callerKey(r *http.Request) string {
	if id := identity.ActorFromContext(r.Context()); id != "" {
		return "actor:" + id
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the remote IP from the request, stripping the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
