// Package outcome derives a pass/fail verdict from the loosely shaped payload an
// agent returns. Anything it cannot interpret counts as a failure.
package outcome

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/osvaldoandrade/uicase/pkg/domain"
)

var (
	flagKeys  = []string{"ok", "success", "passed"}
	errorKeys = []string{"error", "exception", "traceback"}
	listKeys  = []string{"errors", "failures"}

	passStatuses = map[string]bool{"ok": true, "success": true, "passed": true, "pass": true, "done": true, "completed": true}
	failStatuses = map[string]bool{"fail": true, "failed": true, "error": true, "exception": true}
)

// Classify returns the verdict for raw. Rules apply in order and the first one
// that matches decides: explicit flag, status string, error presence, default false.
func Classify(raw map[string]any) bool {
	for _, key := range flagKeys {
		v, present := raw[key]
		if !present {
			continue
		}
		if b, ok := v.(bool); ok {
			return b
		}
		switch strings.ToLower(stringify(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}

	if v, present := raw["status"]; present && v != nil {
		status := strings.ToLower(stringify(v))
		if passStatuses[status] {
			return true
		}
		if failStatuses[status] {
			return false
		}
	}

	for _, key := range errorKeys {
		if truthy(raw[key]) {
			return false
		}
	}
	for _, key := range listKeys {
		if nonEmptySequence(raw[key]) {
			return false
		}
	}
	return false
}

func Evaluate(raw map[string]any) domain.Verdict {
	return domain.NewVerdict(Classify(raw))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; 1 must read as "1", not "1.000000".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func nonEmptySequence(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return false
}
