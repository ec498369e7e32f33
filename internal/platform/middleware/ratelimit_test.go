package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/auth"
)

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	}

	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected retry headers, got %v", rec.Header())
	}
}

func TestRateLimit_SeparateBucketsPerUser(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	request := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if user != "" {
			req = req.WithContext(auth.WithIdentity(context.Background(), user, user, nil))
		}
		rec := httptest.NewRecorder()
		handler(e.NewContext(req, rec))
		return rec.Code
	}

	if code := request("alice"); code != http.StatusOK {
		t.Fatalf("alice first: expected 200, got %d", code)
	}
	if code := request("alice"); code != http.StatusTooManyRequests {
		t.Errorf("alice second: expected 429, got %d", code)
	}
	if code := request("bob"); code != http.StatusOK {
		t.Errorf("bob: expected own bucket, got %d", code)
	}
}

func TestRateLimit_MeteredPathsHaveOwnBudget(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         100,
		MeteredPerMinute:  2,
		MeteredPaths:      []string{"/api/v1/suggest", "/api/v1/assistant"},
	})(okHandler)

	call := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler(e.NewContext(httptest.NewRequest(http.MethodPost, path, nil), rec))
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("/api/v1/suggest"); rec.Code != http.StatusOK {
			t.Fatalf("suggest %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := call("/api/v1/assistant/ask")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected metered 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2;w=60" {
		t.Errorf("expected metered limit header, got %q", got)
	}
	if retry := rec.Header().Get("Retry-After"); retry == "" || retry == "0" {
		t.Errorf("expected positive Retry-After, got %q", retry)
	}

	if rec := call("/api/v1/mappings"); rec.Code != http.StatusOK {
		t.Errorf("unmetered path should pass, got %d", rec.Code)
	}
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	l := newLimiter(bucketClass{rate: 1, burst: 1}, time.Minute)
	l.now = func() time.Time { return now }

	l.allow("ip:1")
	l.allow("ip:2")
	if l.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.size())
	}

	now = now.Add(5 * time.Minute)
	l.allow("ip:3")
	if l.size() != 1 {
		t.Errorf("expected idle buckets evicted, got %d", l.size())
	}
}

func TestLimiter_Refills(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	l := newLimiter(bucketClass{rate: 1, burst: 1}, 0)
	l.now = func() time.Time { return now }

	if ok, _ := l.allow("k"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, retry := l.allow("k"); ok || retry != 2 {
		t.Fatalf("expected refusal with retry 2, got ok=%v retry=%d", ok, retry)
	}
	now = now.Add(time.Second)
	if ok, _ := l.allow("k"); !ok {
		t.Error("expected token after refill")
	}
}
