package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/uicase/pkg/auth"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware validates the bearer token with validator. A nil validator
// leaves the route open (local/dev deployments without an auth provider).
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		subject := strings.TrimSpace(claims.Email)
		if subject == "" {
			subject = strings.TrimSpace(claims.Subject)
		}
		c.Set("subject", subject)
		c.Next()
	}
}

// RequireScope rejects authenticated callers whose token lacks scope. It is a
// no-op for an empty scope or an unauthenticated (auth disabled) request.
func RequireScope(scope string) gin.HandlerFunc {
	scope = strings.TrimSpace(scope)
	return func(c *gin.Context) {
		if scope == "" {
			c.Next()
			return
		}
		claims, ok := GetClaims(c)
		if !ok {
			c.Next()
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope", "scope": scope})
			return
		}
		c.Next()
	}
}

func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(strings.TrimSpace(parts[1]))
}
