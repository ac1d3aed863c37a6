package stats

import (
	"math"
	"sort"

	"github.com/rewired-gh/streamsim/internal/models"
)

// WeekendLift is the ratio of weekend to weekday activity.
const WeekendLift = 1.35

// CalculateBaseline derives descriptive statistics from a stream's values.
func CalculateBaseline(name string, values []float64) models.StreamBaseline {
	b := models.StreamBaseline{
		Name:     name,
		Patterns: models.Patterns{Trend: "stable", Seasonality: "none"},
	}
	if len(values) == 0 {
		return b
	}

	var w Welford
	b.Min, b.Max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		w.Add(v)
		b.Min = math.Min(b.Min, v)
		b.Max = math.Max(b.Max, v)
	}
	b.Mean = w.Mean
	b.StdDev = w.PopulationStdDev()

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		b.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		b.Median = sorted[n/2]
	}

	at := func(q float64) float64 {
		i := int(math.Floor(float64(n) * q))
		if i >= n {
			i = n - 1
		}
		return sorted[i]
	}
	b.Percentiles = models.Percentiles{
		P25: at(0.25),
		P50: b.Median,
		P75: at(0.75),
		P90: at(0.90),
		P95: at(0.95),
	}
	b.Patterns.WeekdayAvg = b.Mean
	b.Patterns.WeekendAvg = b.Mean * WeekendLift
	return b
}

// Values extracts normalized values from events, treating inert events as
// the midpoint.
func Values(events []models.StreamEvent) []float64 {
	out := make([]float64, 0, len(events))
	for _, e := range events {
		if e.NormalizedValue == nil {
			out = append(out, Midpoint)
			continue
		}
		out = append(out, *e.NormalizedValue)
	}
	return out
}
