package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/security/auth"
)

// RateLimiter is a per-user token bucket limiting request frequency. It is
// independent of the voice quota: it protects the transcription service from
// bursts, not the user's minutes.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiterEntry

	limit rate.Limit
	burst int

	// entryTTL is how long idle entries are kept.
	entryTTL time.Duration
	now      func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// Call Stop to end the background cleanup.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:    make(map[string]*rateLimiterEntry),
		limit:       rate.Limit(float64(perMinute) / 60),
		burst:       burst,
		entryTTL:    10 * time.Minute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Reserve takes a token for key. It returns ok=false and the wait until the
// next token when none is available.
func (rl *RateLimiter) Reserve(key string) (ok bool, retryAfter time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	entry, found := rl.limiters[key]
	if !found {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastAccess = now
	rl.mu.Unlock()

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Handle wraps next with the limit, keyed by the authenticated user and
// falling back to the remote address.
func (rl *RateLimiter) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := auth.UserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}

		if ok, wait := rl.Reserve(key); !ok {
			secs := int64(wait/time.Second) + 1
			slog.WarnContext(r.Context(), "request rate limited",
				"key", key,
				"retry_after_s", secs,
				"request_id", GetRequestID(r.Context()),
			)
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			types.WriteError(w, types.NewErrorResponse(http.StatusTooManyRequests,
				types.CodeRateLimited, "too many requests, slow down"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes entries that haven't been accessed recently
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.entryTTL)
	for key, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Stop stops the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Count returns the number of tracked keys.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
