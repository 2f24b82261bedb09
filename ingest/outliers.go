package ingest

import (
	"math"
	"sort"
)

// Quantile bounds used for the outlier fence.
const (
	LowerQuantile = 0.05
	UpperQuantile = 0.95
	fenceFactor   = 1.5
)

// Fence is the inclusive range values are clipped into.
type Fence struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Quantile returns the q-th quantile using linear interpolation between the
// closest ranks, matching numpy's default method.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower < 0 {
		lower = 0
	}
	if upper >= len(sorted) {
		upper = len(sorted) - 1
	}
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// OutlierFence widens the inter-quantile range by 1.5 on both sides.
func OutlierFence(values []float64) Fence {
	q1 := Quantile(values, LowerQuantile)
	q3 := Quantile(values, UpperQuantile)
	iqr := q3 - q1
	return Fence{Low: q1 - fenceFactor*iqr, High: q3 + fenceFactor*iqr}
}

// Clip moves values outside the fence onto its bounds in place and returns how
// many were moved.
func (f Fence) Clip(values []float64) int {
	clipped := 0
	for i, v := range values {
		switch {
		case v < f.Low:
			values[i] = f.Low
			clipped++
		case v > f.High:
			values[i] = f.High
			clipped++
		}
	}
	return clipped
}
