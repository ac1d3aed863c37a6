// Package duration parses the human-readable duration strings used in
// scenario, relationship and event tables ("immediate", "3 hours",
// "5-30 minutes").
package duration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrSyntax is returned for strings that do not follow the grammar.
var ErrSyntax = errors.New("invalid duration")

const week = 7 * 24 * time.Hour

// Span is a parsed duration, optionally a [Min, Max] range.
type Span struct {
	Min time.Duration
	Max time.Duration
}

// Source draws uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// IsZero reports whether the span is an immediate delay.
func (s Span) IsZero() bool { return s.Max == 0 }

// IsRange reports whether the span has distinct bounds.
func (s Span) IsRange() bool { return s.Min != s.Max }

// Draw returns a uniformly distributed duration within the span.
func (s Span) Draw(src Source) time.Duration {
	if !s.IsRange() || src == nil {
		return s.Max
	}
	return s.Min + time.Duration(src.Float64()*float64(s.Max-s.Min))
}

func (s Span) String() string {
	if s.IsRange() {
		return fmt.Sprintf("%s-%s", s.Min, s.Max)
	}
	return s.Max.String()
}

// Parse converts a duration string into a Span. The empty string yields a
// zero span.
func Parse(s string) (Span, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	switch {
	case text == "", text == "0", text == "immediate", text == "immediately":
		return Span{}, nil
	case strings.Contains(text, "at scheduled time"):
		return Span{}, nil
	case strings.Contains(text, "weekly"):
		return Span{Min: week, Max: week}, nil
	}

	fields := strings.Fields(strings.ReplaceAll(text, "-", " - "))
	var amounts []string
	var unitText string
	switch {
	case len(fields) == 2:
		amounts, unitText = fields[:1], fields[1]
	case len(fields) == 4 && fields[1] == "-":
		amounts, unitText = []string{fields[0], fields[2]}, fields[3]
	default:
		return Span{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}

	unit, ok := parseUnit(unitText)
	if !ok {
		return Span{}, fmt.Errorf("%w: unknown unit in %q", ErrSyntax, s)
	}

	values := make([]time.Duration, len(amounts))
	for i, a := range amounts {
		n, err := strconv.ParseFloat(a, 64)
		if err != nil || n < 0 || math.IsInf(n, 0) || math.IsNaN(n) {
			return Span{}, fmt.Errorf("%w: bad amount in %q", ErrSyntax, s)
		}
		ns := n * float64(unit)
		if ns >= math.MaxInt64 {
			return Span{}, fmt.Errorf("%w: %q overflows", ErrSyntax, s)
		}
		values[i] = time.Duration(ns)
	}

	span := Span{Min: values[0], Max: values[len(values)-1]}
	if span.Min > span.Max {
		return Span{}, fmt.Errorf("%w: range %q is inverted", ErrSyntax, s)
	}
	return span, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static tables.
func MustParse(s string) Span {
	span, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return span
}

// Max parses s and returns its upper bound, or 0 if s is invalid.
func Max(s string) time.Duration {
	span, err := Parse(s)
	if err != nil {
		return 0
	}
	return span.Max
}

func parseUnit(u string) (time.Duration, bool) {
	u = strings.TrimSuffix(u, "s")
	switch u {
	case "second", "sec":
		return time.Second, true
	case "minute", "min":
		return time.Minute, true
	case "hour", "hr":
		return time.Hour, true
	case "day":
		return 24 * time.Hour, true
	case "week":
		return week, true
	}
	return 0, false
}
