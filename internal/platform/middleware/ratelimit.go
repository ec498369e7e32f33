package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/auth"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
)

// RateLimitConfig holds rate limiting configuration.
//
// Requests whose path starts with one of MeteredPaths draw from a second,
// per-minute budget on top of the general one. Those routes call the paid
// completion service.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	MeteredPerMinute  int
	MeteredPaths      []string
	IdleTTL           time.Duration
}

// DefaultRateLimitConfig returns the limits used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           10 * time.Minute,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// take consumes a token. On refusal it reports the seconds until one is
// available.
func (b *tokenBucket) take(now time.Time) (ok bool, retryAfter int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.refillRate) + 1
}

func (b *tokenBucket) idleSince(now time.Time, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill) > ttl
}

type bucketClass struct {
	rate  float64
	burst int
}

// limiter holds per-client buckets for one class of requests.
type limiter struct {
	mu      sync.Mutex
	class   bucketClass
	ttl     time.Duration
	buckets map[string]*tokenBucket
	swept   time.Time
	now     func() time.Time
}

func newLimiter(class bucketClass, ttl time.Duration) *limiter {
	return &limiter{
		class:   class,
		ttl:     ttl,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (l *limiter) bucket(key string, now time.Time) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ttl > 0 && now.Sub(l.swept) > l.ttl {
		for k, b := range l.buckets {
			if b.idleSince(now, l.ttl) {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.class.rate, l.class.burst, now)
		l.buckets[key] = b
	}
	return b
}

func (l *limiter) allow(key string) (bool, int) {
	now := l.now()
	return l.bucket(key, now).take(now)
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func clientKey(c echo.Context) string {
	if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
		return "user:" + user
	}
	return "ip:" + c.RealIP()
}

func tooManyRequests(c echo.Context, limit string, retryAfter int, msg string) error {
	h := c.Response().Header()
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	h.Set("X-RateLimit-Limit", limit)
	h.Set("X-RateLimit-Remaining", "0")
	return c.JSON(http.StatusTooManyRequests, fhir.NewOperationOutcome(
		fhir.IssueSeverityError, fhir.IssueTypeTransient, msg))
}

// RateLimit returns a rate limiting middleware. Requests are bucketed per
// authenticated user when known, otherwise per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	general := newLimiter(bucketClass{rate: cfg.RequestsPerSecond, burst: cfg.BurstSize}, cfg.IdleTTL)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	var metered *limiter
	if cfg.MeteredPerMinute > 0 && len(cfg.MeteredPaths) > 0 {
		metered = newLimiter(bucketClass{
			rate:  float64(cfg.MeteredPerMinute) / 60,
			burst: cfg.MeteredPerMinute,
		}, cfg.IdleTTL)
	}
	meteredLimit := strconv.Itoa(cfg.MeteredPerMinute) + ";w=60"

	isMetered := func(path string) bool {
		for _, p := range cfg.MeteredPaths {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := clientKey(c)

			if ok, retry := general.allow(key); !ok {
				return tooManyRequests(c, limit, retry, "rate limit exceeded")
			}
			if metered != nil && isMetered(c.Request().URL.Path) {
				if ok, retry := metered.allow(key); !ok {
					return tooManyRequests(c, meteredLimit, retry, "suggestion quota exceeded, try again shortly")
				}
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			return next(c)
		}
	}
}
