package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// ClampMin clamps `f` to [low, high] where a zero `high` means unbounded.
func ClampMin[T constraints.Integer](f, low, high T) T {
	if f < low {
		f = low
	}
	if high > 0 && f > high {
		f = high
	}
	return f
}
