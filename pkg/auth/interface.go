package auth

import (
	"strings"
	"time"
)

// Claims is what a Validator learned about the caller of a uicase endpoint.
type Claims struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Scopes    []string
	Raw       map[string]interface{}
}

// HasScope reports whether the claims grant scope. A granted scope ending in
// ":*" covers every scope under that prefix, so "uicase:*" allows "uicase:run".
func (c *Claims) HasScope(scope string) bool {
	if c == nil || scope == "" {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope || s == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasSuffix(prefix, ":") && strings.HasPrefix(scope, prefix) {
			return true
		}
	}
	return false
}

type Validator interface {
	Validate(token string) (*Claims, error)
}

// Config is the JWKS validator configuration.
type Config struct {
	JwksURL     string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	HTTPTimeout time.Duration
}
