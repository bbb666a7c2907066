package admin

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleLimiterTTL = 10 * time.Minute
	sweepInterval   = time.Minute
)

type endpointLimit struct {
	rps   rate.Limit
	burst int
}

var defaultLimit = endpointLimit{rps: 1, burst: 5}

// endpointRule matches a method and a path pattern. A "*" in the pattern
// matches exactly one path segment and is kept in the limiter key, so
// each chain gets its own restart budget. Without "*" the pattern is a
// plain prefix.
type endpointRule struct {
	method  string
	pattern string
	limit   endpointLimit
}

var defaultRules = []endpointRule{
	{method: http.MethodPost, pattern: "/admin/v1/chains/*/restart", limit: endpointLimit{rps: rate.Every(time.Minute), burst: 1}},
	{method: http.MethodPut, pattern: "/admin/v1/chains/*/settings", limit: endpointLimit{rps: rate.Every(6 * time.Second), burst: 3}},
	{method: http.MethodPost, pattern: "/admin/v1/stores/", limit: endpointLimit{rps: 10, burst: 20}},
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits admin requests per endpoint and client IP.
// Idle limiters are swept by Run.
type RateLimitMiddleware struct {
	rules      []endpointRule
	trustProxy bool
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type RateLimitOption func(*RateLimitMiddleware)

// WithTrustedProxy makes the client IP come from X-Forwarded-For or
// X-Real-IP. Only enable it behind a proxy that sets those headers.
func WithTrustedProxy() RateLimitOption {
	return func(rl *RateLimitMiddleware) { rl.trustProxy = true }
}

func NewRateLimitMiddleware(logger *slog.Logger, opts ...RateLimitOption) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		rules:    defaultRules,
		logger:   logger.With("component", "admin_ratelimit"),
		nowFunc:  time.Now,
		limiters: make(map[string]*limiterEntry),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Run sweeps idle limiters until ctx is done.
func (rl *RateLimitMiddleware) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of live limiters.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap rejects requests over budget with 429 and a Retry-After taken from
// the limiter's next free slot.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := rl.clientIP(r)
		endpointKey, limit := rl.resolve(r.Method, r.URL.Path)
		now := rl.nowFunc()
		limiter := rl.limiterFor(endpointKey+"|"+clientIP, limit, now)

		if !limiter.AllowN(now, 1) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter, now)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds is the wait until one token is available, at least one
// second.
func retryAfterSeconds(l *rate.Limiter, now time.Time) int {
	res := l.ReserveN(now, 1)
	defer res.CancelAt(now)
	if !res.OK() {
		return 60
	}
	secs := int(math.Ceil(res.DelayFrom(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (rl *RateLimitMiddleware) clientIP(r *http.Request) string {
	if rl.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimitMiddleware) resolve(method, path string) (string, endpointLimit) {
	for _, rule := range rl.rules {
		if !strings.EqualFold(rule.method, method) {
			continue
		}
		if key, ok := matchPattern(rule.pattern, path); ok {
			return fmt.Sprintf("%s:%s", rule.method, key), rule.limit
		}
	}
	return "default", defaultLimit
}

// matchPattern returns the concrete path prefix the pattern matched.
func matchPattern(pattern, path string) (string, bool) {
	if !strings.Contains(pattern, "*") {
		return pattern, strings.HasPrefix(path, pattern)
	}
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(got) != len(want) {
		return "", false
	}
	for i := range want {
		if want[i] != "*" && want[i] != got[i] {
			return "", false
		}
	}
	return path, true
}

func (rl *RateLimitMiddleware) limiterFor(key string, limit endpointLimit, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	l := rate.NewLimiter(limit.rps, limit.burst)
	rl.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}
