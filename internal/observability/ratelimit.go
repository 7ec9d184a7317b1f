package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter bounds overall request volume per client IP: maxHits requests
// per window, enforced by a token bucket per IP. Idle buckets are swept by a
// background goroutine so the map cannot grow without bound.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	rate   rate.Limit
	burst  int
	window time.Duration

	stopCleanup chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once
}

func NewIPRateLimiter(maxHits int, window time.Duration) *IPRateLimiter {
	if maxHits <= 0 {
		maxHits = 100
	}
	if window <= 0 {
		window = 15 * time.Minute
	}

	return &IPRateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rate:        rate.Every(window / time.Duration(maxHits)),
		burst:       maxHits,
		window:      window,
		stopCleanup: make(chan struct{}),
	}
}

// Start launches the idle-bucket sweeper. Safe to call more than once.
func (l *IPRateLimiter) Start() {
	l.startOnce.Do(func() {
		go l.cleanupLoop()
	})
}

// Shutdown stops the sweeper. Safe to call more than once.
func (l *IPRateLimiter) Shutdown() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

func (l *IPRateLimiter) Middleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			logger.Warn("rate_limited", map[string]any{
				"ip":         ip,
				"path":       r.URL.Path,
				"request_id": RequestIDFromContext(r.Context()),
			})
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *IPRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
