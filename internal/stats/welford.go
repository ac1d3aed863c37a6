package stats

import "math"

// Welford accumulates a running mean and variance in one pass.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// PopulationStdDev returns the standard deviation over all samples seen.
func (w *Welford) PopulationStdDev() float64 {
	if w.Count == 0 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
