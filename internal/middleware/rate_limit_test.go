package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/uicase/internal/ratelimit"
	"github.com/osvaldoandrade/uicase/pkg/auth"
	"github.com/osvaldoandrade/uicase/pkg/config"
)

// mockLimiter implements ratelimit.Limiter for testing
type mockLimiter struct {
	decision ratelimit.Decision
	err      error
	subject  string
	calls    int
}

func (m *mockLimiter) Allow(ctx context.Context, scope string, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	m.calls++
	m.subject = subject
	return m.decision, m.err
}

func runCaseConfig(rpm, burst int) *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			RunCase: config.RateLimitBucketConfig{RequestsPerMinute: rpm, BurstSize: burst},
		},
	}
}

func newRunCaseContext(authHeader string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/v1/uicase/run-case", nil)
	ctx.Request.RemoteAddr = "203.0.113.7:4242"
	if authHeader != "" {
		ctx.Request.Header.Set("Authorization", authHeader)
	}
	return ctx, rec
}

func TestRateLimitRunCase_DisabledBucket(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}}
	ctx, _ := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(limiter, runCaseConfig(0, 0))(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through for disabled bucket")
	}
	if limiter.calls != 0 {
		t.Fatal("limiter must not be consulted for a disabled bucket")
	}
}

func TestRateLimitRunCase_AllowedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 7}}
	ctx, rec := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(limiter, runCaseConfig(100, 10))(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when rate limit allows")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" || rec.Header().Get("X-RateLimit-Remaining") != "7" {
		t.Fatalf("unexpected rate limit headers: %v", rec.Header())
	}
	if limiter.subject != "test-token" {
		t.Fatalf("expected token subject, got %q", limiter.subject)
	}
}

func TestRateLimitRunCase_DeniedDecision(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 5 * time.Second}}
	ctx, rec := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(limiter, runCaseConfig(100, 10))(ctx)

	if !ctx.IsAborted() {
		t.Fatal("expected request to be aborted when rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 status, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After: 5, got %s", got)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal JSON response: %v", err)
	}
	if body["error"] != "rate limit exceeded" || body["scope"] != "run_case" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["retryAfterSeconds"] != float64(5) {
		t.Fatalf("expected retryAfterSeconds=5, got %v", body["retryAfterSeconds"])
	}
}

func TestRateLimitRunCase_RedisErrorFailsOpen(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false}, err: context.DeadlineExceeded}
	ctx, _ := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(limiter, runCaseConfig(100, 10))(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through when limiter returns error (fail open)")
	}
}

func TestRateLimitRunCase_NoAuthHeaderUsesClientIP(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := newRunCaseContext("")

	RateLimitRunCase(limiter, runCaseConfig(100, 10))(ctx)

	if limiter.subject != "ip:203.0.113.7" {
		t.Fatalf("expected client ip subject, got %q", limiter.subject)
	}
}

func TestRateLimitRunCase_KeysByAuthenticatedSubject(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: true}}
	ctx, _ := newRunCaseContext("Bearer rotated-token")
	ctx.Set(claimsKey, &auth.Claims{Subject: "ci-runner"})

	RateLimitRunCase(limiter, runCaseConfig(100, 10))(ctx)

	if limiter.subject != "sub:ci-runner" {
		t.Fatalf("expected subject key, got %q", limiter.subject)
	}
}

func TestRateLimitRunCase_NilLimiter(t *testing.T) {
	ctx, _ := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(nil, runCaseConfig(100, 10))(ctx)

	if ctx.IsAborted() {
		t.Fatal("expected request to pass through with nil limiter")
	}
}

func TestRateLimitRunCase_RetryAfterAtLeastOne(t *testing.T) {
	limiter := &mockLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 500 * time.Millisecond}}
	ctx, rec := newRunCaseContext("Bearer test-token")

	RateLimitRunCase(limiter, runCaseConfig(30, 5))(ctx)

	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After: 1 (minimum), got %s", got)
	}
}

func TestRateLimitRunCase_TokenBucketReturns429(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/uicase/run-case", RateLimitRunCase(ratelimit.NewTokenBucketLimiter(rdb), runCaseConfig(1, 2)), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/uicase/run-case", nil)
		req.Header.Set("Authorization", "Bearer burst-token")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 200,200,429 got %v", codes)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{
			name:   "valid bearer token",
			header: "Bearer abc123",
			want:   "abc123",
		},
		{
			name:   "valid with extra spaces",
			header: "  Bearer   def456  ",
			want:   "def456",
		},
		{
			name:   "case insensitive bearer",
			header: "bearer xyz789",
			want:   "xyz789",
		},
		{
			name:   "empty header",
			header: "",
			want:   "",
		},
		{
			name:   "missing token",
			header: "Bearer",
			want:   "",
		},
		{
			name:   "wrong scheme",
			header: "Basic abc123",
			want:   "",
		},
		{
			name:   "no scheme",
			header: "justtoken",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bearerToken(tt.header)
			if got != tt.want {
				t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
