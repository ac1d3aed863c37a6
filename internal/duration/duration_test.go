package duration

import (
	"errors"
	"testing"
	"time"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Span
	}{
		{"", Span{}},
		{"0", Span{}},
		{"immediate", Span{}},
		{"at scheduled time", Span{}},
		{"weekly", Span{Min: week, Max: week}},
		{"bi-weekly batches", Span{Min: week, Max: week}},
		{"30 seconds", Span{Min: 30 * time.Second, Max: 30 * time.Second}},
		{"1 minute", Span{Min: time.Minute, Max: time.Minute}},
		{"3 hours", Span{Min: 3 * time.Hour, Max: 3 * time.Hour}},
		{"2 days", Span{Min: 48 * time.Hour, Max: 48 * time.Hour}},
		{"5-30 minutes", Span{Min: 5 * time.Minute, Max: 30 * time.Minute}},
		{"1 - 6 Hours", Span{Min: time.Hour, Max: 6 * time.Hour}},
		{"0 seconds", Span{}},
		{"1.5 hours", Span{Min: 90 * time.Minute, Max: 90 * time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"soon", "5 fortnights", "ten minutes", "30-5 minutes", "1 2 3",
		"1e30 hours", "inf minutes", "nan seconds", "5-1e20 days", "107000 days"} {
		if _, err := Parse(input); !errors.Is(err, ErrSyntax) {
			t.Errorf("Parse(%q) error = %v, want ErrSyntax", input, err)
		}
	}
	if got := Max("1e30 hours"); got != 0 {
		t.Errorf("Max on overflowing input = %v, want 0", got)
	}
	if got := Max("soon"); got != 0 {
		t.Errorf("Max on invalid input = %v, want 0", got)
	}
}

func TestParseLargest(t *testing.T) {
	got, err := Parse("100000 days")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if want := 100000 * 24 * time.Hour; got.Max != want || got.Max <= 0 {
		t.Errorf("Parse(100000 days) = %v, want %v", got.Max, want)
	}
}

func TestSpanDraw(t *testing.T) {
	span := MustParse("10-20 minutes")
	if got := span.Draw(fixedSource(0)); got != 10*time.Minute {
		t.Errorf("Draw(0) = %v, want 10m", got)
	}
	if got := span.Draw(fixedSource(0.5)); got != 15*time.Minute {
		t.Errorf("Draw(0.5) = %v, want 15m", got)
	}
	fixed := MustParse("5 minutes")
	if got := fixed.Draw(fixedSource(0.9)); got != 5*time.Minute {
		t.Errorf("fixed Draw = %v, want 5m", got)
	}
}
