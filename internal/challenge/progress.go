package challenge

import "math"

// Progress is derived from the check-in count; it is never stored as a
// source of truth.
type Progress struct {
	Percent    int  `json:"percent"`
	IsComplete bool `json:"is_complete"`
}

// ComputeProgress maps taps over a duration to a percentage in [0, 100].
// Halves round away from zero.
func ComputeProgress(taps, durationDays int) Progress {
	if durationDays <= 0 {
		return Progress{}
	}
	pct := int(math.Round(float64(taps) / float64(durationDays) * 100))
	pct = min(max(pct, 0), 100)
	return Progress{Percent: pct, IsComplete: pct >= 100}
}

func DaysRemaining(taps, durationDays int) int {
	return max(0, durationDays-taps)
}
