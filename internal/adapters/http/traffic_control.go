package httpadapter

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// rateLimitMiddleware applies one process-wide token bucket. rps <= 0
// disables limiting.
func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reservation := limiter.Reserve()
		if !reservation.OK() {
			writeRateLimited(w, r, time.Second)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			writeRateLimited(w, r, delay)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	slog.Warn("http_rate_limited",
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"retry_after_seconds", seconds,
	)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// backpressureMiddleware admits at most maxInFlight concurrent requests. A
// request waits up to wait for a slot before it is rejected with 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := semaphore.NewWeighted(int64(maxInFlight))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acquireSlot(r.Context(), slots, wait) {
			if r.Context().Err() != nil {
				return
			}
			slog.Warn("http_overloaded",
				"request_id", requestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"max_in_flight", maxInFlight,
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "server is overloaded, retry later")
			return
		}
		defer slots.Release(1)

		next.ServeHTTP(w, r)
	})
}

func acquireSlot(ctx context.Context, slots *semaphore.Weighted, wait time.Duration) bool {
	if wait <= 0 {
		return slots.TryAcquire(1)
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return slots.Acquire(ctx, 1) == nil
}
