package outcome

import "testing"

func TestClassifyExplicitFlags(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{"ok true", map[string]any{"ok": true}, true},
		{"ok false", map[string]any{"ok": false}, false},
		{"ok string true", map[string]any{"ok": "true"}, true},
		{"ok string TRUE", map[string]any{"ok": "TRUE"}, true},
		{"ok string 1", map[string]any{"ok": "1"}, true},
		{"ok string yes", map[string]any{"ok": "Yes"}, true},
		{"ok string false", map[string]any{"ok": "false"}, false},
		{"ok string 0", map[string]any{"ok": "0"}, false},
		{"ok string no", map[string]any{"ok": "no"}, false},
		{"ok json number", map[string]any{"ok": float64(1)}, true},
		{"success true", map[string]any{"success": true}, true},
		{"passed false", map[string]any{"passed": false}, false},
		{"ok wins over success", map[string]any{"ok": false, "success": true}, false},
		{"unrecognized ok falls through to success", map[string]any{"ok": "maybe", "success": "yes"}, true},
		{"unrecognized ok falls through to status", map[string]any{"ok": "maybe", "status": "done"}, true},
		{"padded flag is not recognized", map[string]any{"ok": " true "}, false},
		{"padded flag falls through to status", map[string]any{"ok": " false ", "status": "done"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.raw); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	for _, s := range []string{"ok", "success", "passed", "pass", "done", "completed", "SUCCESS", "Passed"} {
		if !Classify(map[string]any{"status": s}) {
			t.Errorf("status %q: expected true", s)
		}
	}
	for _, s := range []string{"fail", "failed", "error", "exception", "FAILED", "failing", "running", " passed "} {
		if Classify(map[string]any{"status": s}) {
			t.Errorf("status %q: expected false", s)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	if !Classify(map[string]any{"ok": true, "status": "failed"}) {
		t.Error("explicit ok=true must win over status=failed")
	}
	if Classify(map[string]any{"status": "failed", "error": ""}) {
		t.Error("status=failed must classify as false")
	}
	if !Classify(map[string]any{"status": "done", "errors": []any{"x"}}) {
		t.Error("status must be consulted before error collections")
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"errors list", map[string]any{"errors": []any{"x"}}},
		{"failures list", map[string]any{"failures": []string{"assert"}}},
		{"error string", map[string]any{"error": "boom"}},
		{"exception map", map[string]any{"exception": map[string]any{"type": "Timeout"}}},
		{"traceback", map[string]any{"traceback": "line 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Classify(tt.raw) {
				t.Errorf("Classify(%v) = true, want false", tt.raw)
			}
		})
	}
}

func TestClassifyFailClosed(t *testing.T) {
	for _, raw := range []map[string]any{
		nil,
		{},
		{"text": "the agent finished"},
		{"errors": []any{}, "error": nil},
		{"title": "Home", "url": "https://example.com/home"},
	} {
		if Classify(raw) {
			t.Errorf("Classify(%v) = true, want fail-closed false", raw)
		}
	}
}

func TestEvaluate(t *testing.T) {
	v := Evaluate(map[string]any{"status": "success"})
	if !v.OK || v.Message == "" {
		t.Errorf("Evaluate() = %+v", v)
	}
	v = Evaluate(nil)
	if v.OK {
		t.Errorf("Evaluate(nil) = %+v, want failure", v)
	}
}
