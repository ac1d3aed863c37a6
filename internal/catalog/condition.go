package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rewired-gh/streamsim/internal/models"
)

// Predicate tests a triggering event's payload.
type Predicate func(data map[string]any) bool

var conditionPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_.]*)\s*(===|!==|<=|>=|<|>)\s*(.+?)\s*$`)

// CompileCondition turns a rule condition into a predicate. The empty
// condition always passes.
func CompileCondition(expr string) (Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return func(map[string]any) bool { return true }, nil
	}
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, models.NewValidationError("condition", "unsupported condition %q", expr)
	}
	field, op, operand := m[1], m[2], m[3]

	switch op {
	case "===", "!==":
		want, ok := unquote(operand)
		if !ok {
			return nil, models.NewValidationError("condition", "expected quoted string in %q", expr)
		}
		eq := func(data map[string]any) bool {
			if fmt.Sprint(lookup(data, field)) == want {
				return true
			}
			// status changes are reported as new_status by several streams
			return field == "status" && fmt.Sprint(lookup(data, "new_status")) == want
		}
		if op == "===" {
			return eq, nil
		}
		return func(data map[string]any) bool { return !eq(data) }, nil
	}

	threshold, err := strconv.ParseFloat(operand, 64)
	if err != nil {
		return nil, models.NewValidationError("condition", "expected number in %q", expr)
	}
	cmp := map[string]func(a, b float64) bool{
		"<":  func(a, b float64) bool { return a < b },
		"<=": func(a, b float64) bool { return a <= b },
		">":  func(a, b float64) bool { return a > b },
		">=": func(a, b float64) bool { return a >= b },
	}[op]
	return func(data map[string]any) bool {
		v, ok := toFloat(lookup(data, field))
		return ok && cmp(v, threshold)
	}, nil
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// lookup resolves dotted paths into nested payload maps.
func lookup(data map[string]any, field string) any {
	var cur any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
