package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// rateLimiter is a fixed-window counter keyed by caller id. Two windows run
// in parallel (per-minute and per-hour); the stricter one wins. This is the
// in-memory limiter; it is also the degraded mode when no shared backend is
// configured, with the same caps.
type rateLimiter struct {
	perMinute int
	perHour   int

	mu        sync.Mutex
	minutes   map[string]*window
	hours     map[string]*window
	lastSweep time.Time
}

type window struct {
	start time.Time
	count int
}

var rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "contextcache_rate_limited_total",
	Help: "Requests rejected by the rate limiter.",
})

func init() {
	prometheus.MustRegister(rateLimited)
}

func newRateLimiter(perMinute, perHour int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if perHour <= 0 {
		perHour = 1000
	}
	return &rateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		minutes:   make(map[string]*window),
		hours:     make(map[string]*window),
	}
}

// allow records one request for the key. When rejected, retryAfter is the
// seconds until the blocking window resets.
func (l *rateLimiter) allow(key string, now time.Time) (ok bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Expired windows are dead weight; sweep them at most once a minute so
	// the maps do not grow with every caller ever seen.
	if now.Sub(l.lastSweep) >= time.Minute {
		sweep(l.minutes, now, time.Minute)
		sweep(l.hours, now, time.Hour)
		l.lastSweep = now
	}

	if retry := bump(l.minutes, key, now, time.Minute, l.perMinute); retry > 0 {
		return false, retry
	}
	if retry := bump(l.hours, key, now, time.Hour, l.perHour); retry > 0 {
		return false, retry
	}
	return true, 0
}

// sweep drops windows whose span has elapsed.
func sweep(windows map[string]*window, now time.Time, span time.Duration) {
	for key, w := range windows {
		if now.Sub(w.start) >= span {
			delete(windows, key)
		}
	}
}

// bump advances the fixed window for key and returns 0 when allowed, or the
// seconds until reset when the cap is hit.
func bump(windows map[string]*window, key string, now time.Time, span time.Duration, limit int) int {
	w := windows[key]
	if w == nil || now.Sub(w.start) >= span {
		windows[key] = &window{start: now.Truncate(span), count: 1}
		return 0
	}
	if w.count >= limit {
		remaining := w.start.Add(span).Sub(now)
		secs := int(remaining.Seconds()) + 1
		return secs
	}
	w.count++
	return 0
}

// rateLimitMiddleware enforces per-caller limits. Authenticated callers are
// keyed by identity; anonymous requests by remote IP.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if caller := callerFrom(r.Context()); caller != nil {
			key = caller.SubjectID()
		}
		ok, retryAfter := s.limiter.allow(key, time.Now())
		if !ok {
			rateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
