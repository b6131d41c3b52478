package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"daq/internal/data"

	"github.com/go-redis/redis/v8"
)

// rateLimiter throttles the mutating control endpoints (POST /start,
// POST /stop) by client IP using a Redis sliding-window algorithm:
// ZREMRANGEBYSCORE to expire old entries, ZCARD to count the window, ZADD
// the current request, EXPIRE the key. There is no JWT/user concept in this
// control surface, so a public/private rate split collapses to a single
// per-IP limit.
type rateLimiter struct {
	redis             *redis.Client
	requestsPerWindow int
	windowSeconds     int
}

func newRateLimiter(conn *data.Conn, requestsPerWindow, windowSeconds int) *rateLimiter {
	return &rateLimiter{
		redis:             conn.Cache,
		requestsPerWindow: requestsPerWindow,
		windowSeconds:     windowSeconds,
	}
}

func (rl *rateLimiter) allow(ctx context.Context, route string, r *http.Request) (bool, int, error) {
	ip := clientIP(r)
	key := fmt.Sprintf("daq:ratelimit:%s:%s", route, ip)
	now := time.Now()
	windowStart := now.Add(-time.Duration(rl.windowSeconds) * time.Second)

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%.0f", float64(windowStart.Unix())))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.Unix()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, time.Duration(rl.windowSeconds)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		// Redis being unavailable should not take down the control surface;
		// fail open.
		return true, rl.requestsPerWindow, nil
	}

	count := int(countCmd.Val())
	// count excludes the current request, so it is allowed only while fewer
	// than requestsPerWindow requests are already in the window.
	return count < rl.requestsPerWindow, rl.requestsPerWindow - count - 1, nil
}

// middleware wraps route with IP-based throttling; the window
// length is reported verbatim as Retry-After on a 429.
func (rl *rateLimiter) middleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, err := rl.allow(r.Context(), route, r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerWindow))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(rl.windowSeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
