package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toResult coerces whatever an agent returned into the raw result mapping.
func toResult(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	case []byte:
		return fromText(string(t))
	case string:
		return fromText(t)
	case fmt.Stringer:
		return fromText(t.String())
	}
	b, err := json.Marshal(v)
	if err == nil {
		var m map[string]any
		if json.Unmarshal(b, &m) == nil && m != nil {
			return m
		}
	}
	return map[string]any{"text": fmt.Sprint(v)}
}

// fromText accepts a JSON object (agents are asked to reply with one) and
// falls back to wrapping the text.
func fromText(s string) map[string]any {
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if json.Unmarshal([]byte(trimmed), &m) == nil && m != nil {
			return m
		}
	}
	return map[string]any{"text": s}
}
