// Package stats maps raw stream values onto the 0-100 index and derives
// baseline statistics from observed series.
package stats

import (
	"math"

	"github.com/rewired-gh/streamsim/internal/models"
)

const (
	// Midpoint is the normalized value of a raw value equal to the mean.
	Midpoint = 50.0
	// Spread is the number of index points per standard deviation.
	Spread = 15.0

	Epsilon = 1e-9
)

// BaselineStats holds the reference distribution of one stream.
type BaselineStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

func (b BaselineStats) safeStdDev() float64 {
	if b.StdDev < Epsilon {
		return 1
	}
	return b.StdDev
}

// ZScore returns the number of standard deviations raw lies from the mean.
func ZScore(raw float64, b BaselineStats) float64 {
	return (raw - b.Mean) / b.safeStdDev()
}

// Flag classifies a z-score.
func Flag(z float64) models.AnomalyFlag {
	switch az := math.Abs(z); {
	case az < 1:
		return models.FlagNormal
	case az < 2:
		return models.FlagWarning
	default:
		return models.FlagCritical
	}
}

// Normalize maps raw onto [0, 100] where 50 is the baseline mean.
func Normalize(raw float64, b BaselineStats) (float64, models.AnomalyFlag) {
	z := ZScore(raw, b)
	v := Midpoint + Spread*z
	return math.Max(0, math.Min(100, v)), Flag(z)
}

// Denormalize inverts Normalize for values inside the unclamped range.
func Denormalize(normalized float64, b BaselineStats) float64 {
	z := (normalized - Midpoint) / Spread
	return b.Mean + z*b.safeStdDev()
}
