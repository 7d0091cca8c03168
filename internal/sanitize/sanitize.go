// Package sanitize centralizes the NaN/Inf scrubbing applied to observation
// and reward arrays before they leave TradingVecEnv. RL training loops treat
// NaN/Inf as fatal, so every float that crosses that boundary passes through
// here exactly once.
package sanitize

import "math"

// Float32 replaces NaN, +Inf, and -Inf with 0.
func Float32(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return v
}

// Float32Slice sanitizes a slice in place and returns it.
func Float32Slice(vs []float32) []float32 {
	for i, v := range vs {
		vs[i] = Float32(v)
	}
	return vs
}

// Float64 replaces NaN, +Inf, and -Inf with 0.
func Float64(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Float64Slice sanitizes a slice in place and returns it.
func Float64Slice(vs []float64) []float64 {
	for i, v := range vs {
		vs[i] = Float64(v)
	}
	return vs
}

// Array6 returns a sanitized copy of a [6]float32 row (account feature shape).
func Array6(row [6]float32) [6]float32 {
	for i, v := range row {
		row[i] = Float32(v)
	}
	return row
}

// Array5 returns a sanitized copy of a [5]float32 row (market feature shape).
func Array5(row [5]float32) [5]float32 {
	for i, v := range row {
		row[i] = Float32(v)
	}
	return row
}

// Array10 returns a sanitized copy of a [10]float32 row (time feature shape).
func Array10(row [10]float32) [10]float32 {
	for i, v := range row {
		row[i] = Float32(v)
	}
	return row
}
