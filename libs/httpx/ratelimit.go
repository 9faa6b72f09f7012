package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Decision is one limiter answer for one request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimit answers 429 once a tenant exceeds its window. If the limiter
// itself fails, the request passes when failOpen and gets 503 otherwise.
func RateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), limiterKey(r))
			if err != nil {
				logger.Warn("rate limiter unavailable", "request_id", RequestIDFromContext(r.Context()), "err", err)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "rate limiter unavailable")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				writeRateLimited(w, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiter keeps windows in process. It is the fallback when no Redis
// is configured, so limits are per replica.
type MemoryLimiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{limit: limit, window: window, now: time.Now, windows: map[string]*fixedWindow{}}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	fw := l.windows[key]
	if fw == nil || !now.Before(fw.resetAt) {
		l.evictExpired(now)
		fw = &fixedWindow{resetAt: now.Add(l.window)}
		l.windows[key] = fw
	}
	if fw.count >= l.limit {
		return Decision{RetryAfter: fw.resetAt.Sub(now)}, nil
	}
	fw.count++
	return Decision{Allowed: true, Remaining: l.limit - fw.count}, nil
}

// evictExpired keeps the map from growing with one entry per tenant ever seen.
func (l *MemoryLimiter) evictExpired(now time.Time) {
	for k, fw := range l.windows {
		if !now.Before(fw.resetAt) {
			delete(l.windows, k)
		}
	}
}

// limiterKey buckets by the verified tenant, by client address otherwise.
func limiterKey(r *http.Request) string {
	if id := BusinessIDFromContext(r.Context()); id != "" {
		return "biz:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeRateLimited(w http.ResponseWriter, retry time.Duration) {
	secs := int(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
}
