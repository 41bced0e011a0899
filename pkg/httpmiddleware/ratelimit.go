package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// APIKeyHeader carries the terminal key.
const APIKeyHeader = "X-API-Key"

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket for a request. Defaults to TerminalKey.
	KeyFunc func(*http.Request) string
}

type window struct {
	start time.Time
	count float64
	prev  float64
}

// Limiter counts requests per key over two adjacent fixed windows, weighting
// the previous one by its overlap with the sliding window.
type Limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = TerminalKey
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records a request for key. It returns how many requests are left in
// the window, when the current window ends and whether the request may pass.
func (l *Limiter) Allow(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{start: now.Truncate(size)}
		l.windows[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= size {
		w.prev = w.count
		if elapsed >= 2*size {
			w.prev = 0
		}
		w.count = 0
		w.start = now.Truncate(size)
	}

	overlap := max(0, 1-now.Sub(w.start).Seconds()/size.Seconds())
	used := w.prev*overlap + w.count
	reset = w.start.Add(size)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.count++
	return max(0, int(float64(l.cfg.Max)-used-1)), reset, true
}

// Sweep forgets keys idle for two windows.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// Run sweeps every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	t := time.NewTicker(2 * l.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.Sweep()
		}
	}
}

// Middleware rejects requests over the limit with 429. Every response carries
// the X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.Allow(l.cfg.KeyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(0, reset.Sub(l.now()))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteErrorWith(w, http.StatusTooManyRequests, "rate limit exceeded", func(e *jx.Encoder) {
					e.Field("retryAfter", func(e *jx.Encoder) { e.Int(int(math.Ceil(wait.Seconds()))) })
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TerminalKey buckets requests by terminal key so that terminals behind one
// store router do not share a budget. Anonymous requests fall back to the
// client address.
func TerminalKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return "key:" + key
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
