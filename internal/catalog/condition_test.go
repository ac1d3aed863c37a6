package catalog

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestCompileCondition(t *testing.T) {
	tests := []struct {
		expr string
		data map[string]any
		want bool
	}{
		{"", nil, true},
		{"status === 'completed'", map[string]any{"status": "completed"}, true},
		{"status === 'completed'", map[string]any{"new_status": "completed"}, true},
		{"status === 'completed'", map[string]any{"status": "pending"}, false},
		{"status !== 'pending'", map[string]any{"status": "approved"}, true},
		{"status !== 'pending'", map[string]any{"new_status": "pending"}, false},
		{"rating_score < 3", map[string]any{"rating_score": 2}, true},
		{"rating_score < 3", map[string]any{"rating_score": 3.0}, false},
		{"rating_score <= 3", map[string]any{"rating_score": 3.0}, true},
		{"amount > 100", map[string]any{"amount": "150"}, true},
		{"amount >= 100", map[string]any{}, false},
		{"meta.tier === \"gold\"", map[string]any{"meta": map[string]any{"tier": "gold"}}, true},
	}
	for _, tt := range tests {
		pred, err := CompileCondition(tt.expr)
		if err != nil {
			t.Fatalf("CompileCondition(%q) error: %v", tt.expr, err)
		}
		if got := pred(tt.data); got != tt.want {
			t.Errorf("%q on %v = %v, want %v", tt.expr, tt.data, got, tt.want)
		}
	}
}

func TestCompileConditionRejects(t *testing.T) {
	for _, expr := range []string{
		"status == 'x'",
		"status === completed",
		"rating < high",
		"just words",
	} {
		if _, err := CompileCondition(expr); err == nil {
			t.Errorf("CompileCondition(%q) succeeded, want error", expr)
		}
	}
}
