package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestClientIPPrefersForwardedForHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/start", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.RemoteAddr = "192.168.1.1:4000"

	if got := clientIP(r); got != "203.0.113.9" {
		t.Fatalf("clientIP() = %q, want 203.0.113.9", got)
	}
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/start", nil)
	r.RemoteAddr = "192.168.1.1:4000"

	if got := clientIP(r); got != "192.168.1.1" {
		t.Fatalf("clientIP() = %q, want 192.168.1.1", got)
	}
}

// allow() fails open when Redis is unreachable — an unreachable client
// (dialed against a closed port with a short timeout) exercises that path
// without needing a live Redis.
func TestRateLimiterFailsOpenWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
	})
	defer client.Close()

	rl := &rateLimiter{redis: client, requestsPerWindow: 5, windowSeconds: 60}

	r := httptest.NewRequest(http.MethodPost, "/start", nil)
	r.RemoteAddr = "10.0.0.5:1234"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	allowed, _, err := rl.allow(ctx, "start", r)
	if err != nil {
		t.Fatalf("allow() error = %v, want nil (fail-open swallows the redis error)", err)
	}
	if !allowed {
		t.Fatal("allow() = false with redis unreachable, want true (fail open)")
	}
}

func TestRateLimitMiddlewarePassesThroughWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
	})
	defer client.Close()

	rl := &rateLimiter{redis: client, requestsPerWindow: 5, windowSeconds: 60}

	called := false
	handler := rl.middleware("start", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Fatal("middleware did not call through to the wrapped handler")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
