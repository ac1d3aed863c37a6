package stats

import (
	"math"
	"testing"

	"github.com/rewired-gh/streamsim/internal/models"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNormalizeAtMean(t *testing.T) {
	b := BaselineStats{Mean: 1000, StdDev: 125, Min: 625, Max: 1500}
	v, flag := Normalize(1000, b)
	if v != 50 {
		t.Errorf("normalized = %v, want 50", v)
	}
	if flag != models.FlagNormal {
		t.Errorf("flag = %s, want normal", flag)
	}
}

func TestNormalizeFlags(t *testing.T) {
	b := BaselineStats{Mean: 100, StdDev: 10}
	tests := []struct {
		raw      float64
		wantVal  float64
		wantFlag models.AnomalyFlag
	}{
		{105, 57.5, models.FlagNormal},
		{110, 65, models.FlagWarning},
		{85, 27.5, models.FlagWarning},
		{120, 80, models.FlagCritical},
		{70, 5, models.FlagCritical},
		{200, 100, models.FlagCritical},
		{0, 0, models.FlagCritical},
	}
	for _, tt := range tests {
		v, flag := Normalize(tt.raw, b)
		if !approx(v, tt.wantVal) || flag != tt.wantFlag {
			t.Errorf("Normalize(%v) = (%v, %s), want (%v, %s)", tt.raw, v, flag, tt.wantVal, tt.wantFlag)
		}
	}
}

func TestNormalizeZeroStdDev(t *testing.T) {
	v, flag := Normalize(101, BaselineStats{Mean: 100})
	if !approx(v, 65) || flag != models.FlagWarning {
		t.Errorf("zero stddev should fall back to 1: got (%v, %s)", v, flag)
	}
}

func TestDenormalizeRoundTrip(t *testing.T) {
	b := BaselineStats{Mean: 800, StdDev: 100}
	for _, raw := range []float64{700, 750, 800, 850, 900, 910} {
		n, _ := Normalize(raw, b)
		if got := Denormalize(n, b); math.Abs(got-raw) > 1e-6 {
			t.Errorf("round trip %v -> %v -> %v", raw, n, got)
		}
	}
}

func TestTableStats(t *testing.T) {
	table := NewTable(map[string]float64{"session.completed": 800})

	got := table.Stats("session.completed")
	want := BaselineStats{Mean: 800, StdDev: 100, Min: 500, Max: 1200}
	if got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}

	unknown := table.Stats("nope")
	if unknown.Mean != 1000 || unknown.StdDev != 200 || unknown.Min != 500 || unknown.Max != 2000 {
		t.Errorf("unknown stream stats = %+v", unknown)
	}
	if table.EventsPerDay("nope") != DefaultEventsPerDay {
		t.Errorf("unknown stream volume = %v", table.EventsPerDay("nope"))
	}
}

func TestCalculateBaseline(t *testing.T) {
	b := CalculateBaseline("x", []float64{10, 20, 30, 40})
	if b.Mean != 25 {
		t.Errorf("mean = %v, want 25", b.Mean)
	}
	if b.Median != 25 {
		t.Errorf("median = %v, want 25", b.Median)
	}
	if !approx(b.StdDev, math.Sqrt(125)) {
		t.Errorf("stddev = %v, want %v", b.StdDev, math.Sqrt(125))
	}
	if b.Min != 10 || b.Max != 40 {
		t.Errorf("min/max = %v/%v", b.Min, b.Max)
	}
	if b.Percentiles.P25 != 20 || b.Percentiles.P75 != 40 || b.Percentiles.P95 != 40 {
		t.Errorf("percentiles = %+v", b.Percentiles)
	}
	if !approx(b.Patterns.WeekendAvg, 25*WeekendLift) || b.Patterns.Trend != "stable" {
		t.Errorf("patterns = %+v", b.Patterns)
	}
}

func TestCalculateBaselineOdd(t *testing.T) {
	b := CalculateBaseline("x", []float64{3, 1, 2})
	if b.Median != 2 {
		t.Errorf("median = %v, want 2", b.Median)
	}
}

func TestCalculateBaselineEmpty(t *testing.T) {
	b := CalculateBaseline("x", nil)
	if b.Name != "x" || b.Mean != 0 || b.Patterns.Seasonality != "none" {
		t.Errorf("unexpected empty baseline %+v", b)
	}
}

func TestValues(t *testing.T) {
	var e models.StreamEvent
	e.SetValue(70, models.FlagWarning)
	got := Values([]models.StreamEvent{e, {Stream: "inert"}})
	if got[0] != 70 || got[1] != Midpoint {
		t.Errorf("Values = %v", got)
	}
}
