package viva

import "math"

// Aggregate returns the arithmetic mean of per-question scores rounded to
// one decimal place. It returns 0 for no scores.
func Aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return math.Round(sum/float64(len(scores))*10) / 10
}

// ValidScore reports whether s is in [0, 100].
func ValidScore(s float64) bool {
	return s >= 0 && s <= 100
}
