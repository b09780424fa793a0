// Package jwks validates RS-signed JWTs against a remote JSON Web Key Set,
// for deployments where uicase sits behind an identity provider.
package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/uicase/pkg/auth"
)

const (
	keysetTTL = 5 * time.Minute
	// an unknown kid triggers a refetch at most this often
	minRefetch = 30 * time.Second
)

type Validator struct {
	url    string
	client *http.Client
	parser *jwt.Parser
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type jsonConfig struct {
	JwksURL            string `json:"jwksUrl"`
	Issuer             string `json:"issuer"`
	Audience           string `json:"audience"`
	ClockSkewSeconds   int    `json:"clockSkewSeconds"`
	HTTPTimeoutSeconds int    `json:"httpTimeoutSeconds"`
}

// NewValidatorFromJSON reads the authConfig block, e.g.
// {"jwksUrl":"…","issuer":"…","audience":"uicase"}.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	jc := jsonConfig{ClockSkewSeconds: 60, HTTPTimeoutSeconds: 5}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &jc); err != nil {
			return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
		}
	}
	return NewValidator(auth.Config{
		JwksURL:     jc.JwksURL,
		Issuer:      jc.Issuer,
		Audience:    jc.Audience,
		ClockSkew:   time.Duration(max(jc.ClockSkewSeconds, 0)) * time.Second,
		HTTPTimeout: time.Duration(max(jc.HTTPTimeoutSeconds, 1)) * time.Second,
	})
}

func NewValidator(cfg auth.Config) (auth.Validator, error) {
	switch {
	case cfg.JwksURL == "":
		return nil, errors.New("jwks auth: jwksUrl is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwks auth: issuer is required")
	case cfg.Audience == "":
		return nil, errors.New("jwks auth: audience is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Validator{
		url:    cfg.JwksURL,
		client: &http.Client{Timeout: timeout},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithExpirationRequired(),
		),
		now:  time.Now,
		keys: map[string]*rsa.PublicKey{},
	}, nil
}

func (v *Validator) Validate(raw string) (*auth.Claims, error) {
	mc := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, mc, v.keyFor); err != nil {
		return nil, err
	}

	out := &auth.Claims{
		Subject: stringClaim(mc, "sub"),
		Email:   stringClaim(mc, "email"),
		Issuer:  stringClaim(mc, "iss"),
		Scopes:  scopes(mc),
		Raw:     mc,
	}
	if aud, err := mc.GetAudience(); err == nil {
		out.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

func (v *Validator) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header has no kid")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	age := v.now().Sub(v.fetchedAt)
	if key, ok := v.keys[kid]; ok && age < keysetTTL {
		return key, nil
	}
	if v.fetchedAt.IsZero() || age >= minRefetch {
		keys, err := v.fetch()
		if err != nil {
			return nil, err
		}
		v.keys, v.fetchedAt = keys, v.now()
	}
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q not in key set", kid)
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Validator) fetch() (map[string]*rsa.PublicKey, error) {
	resp, err := v.client.Get(v.url)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			return nil, fmt.Errorf("jwks key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// scopes merges the space-separated "scope" claim with an "scp" array,
// since issuers differ on which one they send.
func scopes(mc jwt.MapClaims) []string {
	out := strings.Fields(stringClaim(mc, "scope"))
	if arr, ok := mc["scp"].([]any); ok {
		for _, s := range arr {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
	}
	return out
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}
