package model

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Coerce converts an untrusted numeric value into a finite, non-negative
// float64. Missing, non-numeric, NaN, infinite and negative inputs yield 0.
func Coerce(v any) float64 {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
