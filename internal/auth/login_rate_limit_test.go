package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryHitCounterSlidingWindow(t *testing.T) {
	t.Parallel()

	counter := NewMemoryHitCounter()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, _, err := counter.Allow(ctx, "10.0.0.1", 3, time.Minute, now.Add(time.Duration(i)*time.Second))
		if err != nil || !ok {
			t.Fatalf("hit %d should pass, got %v %v", i+1, ok, err)
		}
	}

	ok, retryAfter, err := counter.Allow(ctx, "10.0.0.1", 3, time.Minute, now.Add(10*time.Second))
	if err != nil || ok {
		t.Fatalf("fourth hit should be blocked, got %v %v", ok, err)
	}
	if retryAfter != 50*time.Second {
		t.Fatalf("expected 50s retry, got %s", retryAfter)
	}

	if ok, _, _ := counter.Allow(ctx, "10.0.0.2", 3, time.Minute, now.Add(10*time.Second)); !ok {
		t.Fatalf("other IPs are counted separately")
	}

	if ok, _, _ := counter.Allow(ctx, "10.0.0.1", 3, time.Minute, now.Add(61*time.Second)); !ok {
		t.Fatalf("first hit should have left the window")
	}
}

type erroringCounter struct{}

func (erroringCounter) Allow(context.Context, string, int, time.Duration, time.Time) (bool, time.Duration, error) {
	return false, 0, errors.New("db down")
}

func TestLoginRateLimiterMiddleware(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limited := NewLoginRateLimiter(NewMemoryHitCounter(), 2, time.Minute, nil).Middleware(next)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("429 must carry Retry-After")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	open := NewLoginRateLimiter(erroringCounter{}, 2, time.Minute, nil).Middleware(next)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter should fail open, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
