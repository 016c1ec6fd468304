package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts submissions per caller in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) quota
	Close()
}

// quota is the outcome of one Allow call.
type quota struct {
	allowed bool
	used    int
	resetAt time.Time
}

func (q quota) remaining(limit int) int {
	return max(limit-q.used, 0)
}

type window struct {
	used    int
	resetAt time.Time
}

type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]window
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{windows: make(map[string]window), now: time.Now}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, span time.Duration) quota {
	if limit <= 0 {
		return quota{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.lastPrune) >= span {
		for k, w := range rl.windows {
			if now.After(w.resetAt) {
				delete(rl.windows, k)
			}
		}
		rl.lastPrune = now
	}

	w, ok := rl.windows[key]
	if !ok || now.After(w.resetAt) {
		w = window{resetAt: now.Add(span)}
	}
	if w.used >= limit {
		return quota{allowed: false, used: w.used, resetAt: w.resetAt}
	}
	w.used++
	rl.windows[key] = w
	return quota{allowed: true, used: w.used, resetAt: w.resetAt}
}

func (rl *memoryRateLimiter) Close() {}

// withRateLimit throttles mutating requests per caller. Reads are never limited.
func (r *Router) withRateLimit(route string, limit int, span time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil || req.Method == http.MethodGet {
			next(w, req)
			return
		}
		key, kind := submitterKey(req)
		q := r.limiter.Allow(route+":"+key, limit, span)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining(limit)))
		if !q.resetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.resetAt.Unix(), 10))
		}
		if !q.allowed {
			r.recordRateLimitHit(route, kind)
			r.logger.Warn("submission throttled", "route", route, "key_kind", kind, "used", q.used)
			if !q.resetAt.IsZero() {
				h.Set("Retry-After", strconv.Itoa(max(int(time.Until(q.resetAt).Seconds()), 1)))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// submitterKey identifies the caller by client address.
func submitterKey(req *http.Request) (string, string) {
	host := clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host, "ip"
}

func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
