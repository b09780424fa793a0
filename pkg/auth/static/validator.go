// Package static authenticates uicase callers against a fixed set of bearer
// tokens taken from configuration. It suits dev setups and CI runners that
// have no identity provider.
package static

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/uicase/pkg/auth"
)

// entry is one accepted token and the identity it maps to.
type entry struct {
	Token   string         `json:"token"`
	Subject string         `json:"subject,omitempty"`
	Email   string         `json:"email,omitempty"`
	Scopes  []string       `json:"scopes,omitempty"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// config accepts a bare JSON string, a single entry object, or an object
// with a "tokens" list. The single-entry fields and the list can be mixed.
type config struct {
	entry
	Tokens []entry `json:"tokens,omitempty"`
}

type validator struct {
	entries []entry
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg config
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	all := cfg.Tokens
	if strings.TrimSpace(cfg.Token) != "" {
		all = append([]entry{cfg.entry}, all...)
	}

	v := &validator{}
	seen := map[string]bool{}
	for i, e := range all {
		e.Token = strings.TrimSpace(e.Token)
		if e.Token == "" {
			return nil, fmt.Errorf("static auth: tokens[%d]: token is required", i)
		}
		if seen[e.Token] {
			return nil, fmt.Errorf("static auth: tokens[%d]: duplicate token", i)
		}
		seen[e.Token] = true
		if e.Subject = strings.TrimSpace(e.Subject); e.Subject == "" {
			e.Subject = "static"
		}
		if e.Raw == nil {
			e.Raw = map[string]any{}
		}
		v.entries = append(v.entries, e)
	}
	if len(v.entries) == 0 {
		return nil, errors.New("static auth: token is required")
	}
	return v, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	presented := []byte(strings.TrimSpace(token))
	// every entry is compared so timing does not reveal which one matched
	match := -1
	for i := range v.entries {
		if subtle.ConstantTimeCompare(presented, []byte(v.entries[i].Token)) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, errors.New("invalid token")
	}
	e := v.entries[match]
	return &auth.Claims{
		Subject: e.Subject,
		Email:   e.Email,
		Scopes:  append([]string(nil), e.Scopes...),
		Raw:     e.Raw,
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
