package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/acai-shop/api/internal/platform/auth"
)

func TestTokenBucketLimiterRefills(t *testing.T) {
	now := orderTime
	limiter := NewRateLimiter(60, 2, func() time.Time { return now })

	if !limiter.Allow("user:1") || !limiter.Allow("user:1") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if limiter.Allow("user:1") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("user:2") {
		t.Fatalf("expected other keys to keep their own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("user:1") {
		t.Fatalf("expected one token after a second at 60/min")
	}
	if limiter.Allow("user:1") {
		t.Fatalf("expected bucket to be empty again")
	}
}

func TestTokenBucketLimiterPrunesIdleKeys(t *testing.T) {
	now := orderTime
	limiter := NewRateLimiter(60, 1, func() time.Time { return now }).(*tokenBucketLimiter)

	limiter.Allow("ip:10.0.0.1")
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Allow("ip:10.0.0.2")

	if _, ok := limiter.buckets["ip:10.0.0.1"]; ok {
		t.Fatalf("expected idle bucket to be pruned")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected one live bucket, got %d", len(limiter.buckets))
	}
}

func TestNewRateLimiterDisabled(t *testing.T) {
	if limiter := NewRateLimiter(0, 10, nil); limiter != nil {
		t.Fatalf("expected nil limiter when perMinute is zero")
	}
	calls := 0
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if calls != 1 {
		t.Fatalf("expected pass-through without a limiter")
	}
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	limiter := NewRateLimiter(1, 1, func() time.Time { return orderTime })
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		if userID > 0 {
			req = asUser(req, userID, auth.RoleCustomer)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(7); rr.Code != http.StatusCreated {
		t.Fatalf("expected first request through, got %d", rr.Code)
	}
	rr := send(7)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if body := decodeErrorBody(t, rr); body.Error != "rate_limited" {
		t.Fatalf("unexpected error %+v", body)
	}
	if rr := send(8); rr.Code != http.StatusCreated {
		t.Fatalf("expected another user to be unaffected, got %d", rr.Code)
	}
	if rr := send(0); rr.Code != http.StatusCreated {
		t.Fatalf("expected anonymous caller to use its own bucket, got %d", rr.Code)
	}
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := rateLimitKey(req); got != "ip:203.0.113.9" {
		t.Fatalf("expected ip key, got %q", got)
	}
	if got := rateLimitKey(asUser(req, 3, auth.RoleCustomer)); got != "user:3" {
		t.Fatalf("expected user key, got %q", got)
	}
}
