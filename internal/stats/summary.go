package stats

import (
	"math"
	"sort"
)

// ScoreSummary describes the distribution of a driver's trip scores
type ScoreSummary struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
}

// Summarize computes the summary of scores. Empty input yields the zero summary.
func Summarize(scores []int) ScoreSummary {
	if len(scores) == 0 {
		return ScoreSummary{}
	}

	sorted := make([]float64, len(scores))
	for i, s := range scores {
		sorted[i] = float64(s)
	}
	sort.Float64s(sorted)

	return ScoreSummary{
		Count: len(sorted),
		Min:   int(sorted[0]),
		Max:   int(sorted[len(sorted)-1]),
		Mean:  Mean(sorted),
		P50:   quantileSorted(sorted, 0.5),
		P90:   quantileSorted(sorted, 0.9),
	}
}

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// quantileSorted interpolates linearly between the closest ranks of sorted.
// q is within [0, 1].
func quantileSorted(sorted []float64, q float64) float64 {
	index := q * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}
	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
