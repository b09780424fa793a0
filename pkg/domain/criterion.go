package domain

import (
	"encoding"
	"fmt"
	"strings"
)

type CriterionType string

const (
	CriterionTitleContains CriterionType = "title_contains"
	CriterionTextExists    CriterionType = "text_exists"
	CriterionURLContains   CriterionType = "url_contains"
)

var (
	_ encoding.TextMarshaler = CriterionType("")
)

func (t CriterionType) MarshalText() ([]byte, error) { return []byte(string(t)), nil }

// Valid reports whether t is one of the known criterion kinds.
func (t CriterionType) Valid() bool {
	switch t {
	case CriterionTitleContains, CriterionTextExists, CriterionURLContains:
		return true
	}
	return false
}

// SuccessCriterion describes an expected end state of the page under test.
// Selector only narrows text_exists checks; other kinds ignore it.
type SuccessCriterion struct {
	Type     CriterionType `json:"type" yaml:"type" binding:"required,oneof=title_contains text_exists url_contains"`
	Selector string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value    string        `json:"value" yaml:"value" binding:"required"`
}

// Line renders the criterion the way it is shown to the agent and in reports:
// "- <type>: [<selector>] <value>" or "- <type>: <value>".
func (c SuccessCriterion) Line() string {
	if strings.TrimSpace(c.Selector) != "" {
		return fmt.Sprintf("- %s: [%s] %s", c.Type, c.Selector, c.Value)
	}
	return fmt.Sprintf("- %s: %s", c.Type, c.Value)
}

// ParseCriterion parses the CLI form "type=value" or "type=[selector]value".
func ParseCriterion(s string) (SuccessCriterion, error) {
	kind, rest, ok := strings.Cut(s, "=")
	if !ok {
		return SuccessCriterion{}, fmt.Errorf("criterion %q: expected type=value", s)
	}
	c := SuccessCriterion{Type: CriterionType(strings.TrimSpace(kind))}
	if !c.Type.Valid() {
		return SuccessCriterion{}, fmt.Errorf("criterion %q: unknown type %q", s, c.Type)
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "]"); end > 0 {
			c.Selector = rest[1:end]
			rest = strings.TrimSpace(rest[end+1:])
		}
	}
	if rest == "" {
		return SuccessCriterion{}, fmt.Errorf("criterion %q: value is required", s)
	}
	c.Value = rest
	return c, nil
}
