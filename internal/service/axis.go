package service

import "math"

// NiceCeil rounds v up to the nearest 1, 2 or 5 times a power of ten, the
// usual choice for a chart's axis maximum. Non-positive values return 0.
func NiceCeil(v int64) int64 {
	if v <= 0 {
		return 0
	}
	magnitude := int64(1)
	for magnitude <= v/10 {
		magnitude *= 10
	}
	for _, step := range []int64{1, 2, 5, 10} {
		if step > math.MaxInt64/magnitude {
			break
		}
		if candidate := step * magnitude; candidate >= v {
			return candidate
		}
	}
	return math.MaxInt64
}
