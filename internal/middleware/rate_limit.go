package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/uicase/internal/metrics"
	"github.com/osvaldoandrade/uicase/internal/ratelimit"
	"github.com/osvaldoandrade/uicase/pkg/config"
)

const runCaseScope = "run_case"

// RateLimitRunCase throttles run-case submissions. Each run drives a real
// browser, so the bucket is keyed per caller: the authenticated subject when
// auth ran, else the raw bearer token, else the client IP.
func RateLimitRunCase(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	bc := cfg.RateLimit.RunCase
	return throttle(lim, runCaseScope, ratelimit.Bucket{RequestsPerMinute: bc.RequestsPerMinute, BurstSize: bc.BurstSize})
}

func throttle(lim ratelimit.Limiter, scope string, bucket ratelimit.Bucket) gin.HandlerFunc {
	if lim == nil || !bucket.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	limit := strconv.Itoa(bucket.BurstSize)

	return func(c *gin.Context) {
		dec, err := lim.Allow(c.Request.Context(), scope, callerKey(c), bucket)
		if err != nil {
			// a redis outage must not take run-case down with it
			LoggerFrom(c).Warn("rate limit check failed, allowing request", "scope", scope, "err", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		if dec.Allowed {
			c.Next()
			return
		}

		wait := max(int(dec.RetryAfter.Seconds()), 1)
		c.Header("Retry-After", strconv.Itoa(wait))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, "submit").Inc()
		abortWith(c, http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"retryAfterSeconds": wait,
		})
	}
}

func callerKey(c *gin.Context) string {
	if claims, ok := GetClaims(c); ok && strings.TrimSpace(claims.Subject) != "" {
		return "sub:" + strings.TrimSpace(claims.Subject)
	}
	if tok := bearerToken(c.GetHeader("Authorization")); tok != "" {
		return tok
	}
	return "ip:" + c.ClientIP()
}

func abortWith(c *gin.Context, status int, body gin.H) {
	c.AbortWithStatusJSON(status, body)
}

// bearerToken returns the credential of a "Bearer <token>" header, or "".
func bearerToken(header string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
