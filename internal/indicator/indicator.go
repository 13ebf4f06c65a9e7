// Package indicator contains pure technical-indicator functions over ordered
// price sequences. Every function maps an input series (and window lengths)
// to an output slice of the same length, where positions before the warm-up
// window hold None instead of a value. All functions are deterministic,
// side-effect free and causal: the value at index i depends only on inputs
// at indices <= i.
package indicator

import (
	"math"

	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/moznion/go-optional"
)

// Value is one indicator output: None before warm-up completes.
type Value = optional.Option[float64]

func validateWindow(name string, window int) error {
	if window <= 0 {
		return errors.Newf(errors.ErrCodeInvalidWindow, "%s window must be positive, got %d", name, window)
	}

	return nil
}

// SMA computes the simple moving average with a rolling sum, O(n).
func SMA(values []float64, window int) ([]Value, error) {
	if err := validateWindow("sma", window); err != nil {
		return nil, err
	}

	out := make([]Value, len(values))
	sum := 0.0

	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}

		if i >= window-1 {
			out[i] = optional.Some(sum / float64(window))
		} else {
			out[i] = optional.None[float64]()
		}
	}

	return out, nil
}

// RollingStdDev computes the population standard deviation over a rolling
// window, aligned with SMA's warm-up.
func RollingStdDev(values []float64, window int) ([]Value, error) {
	if err := validateWindow("stddev", window); err != nil {
		return nil, err
	}

	out := make([]Value, len(values))

	for i := range values {
		if i < window-1 {
			out[i] = optional.None[float64]()

			continue
		}

		start := i - window + 1
		mean := 0.0

		for _, v := range values[start : i+1] {
			mean += v
		}

		mean /= float64(window)

		variance := 0.0
		for _, v := range values[start : i+1] {
			diff := v - mean
			variance += diff * diff
		}

		out[i] = optional.Some(math.Sqrt(variance / float64(window)))
	}

	return out, nil
}

// rollingExtreme computes a rolling max (sign=+1) or min (sign=-1).
func rollingExtreme(values []float64, window int, sign float64) []Value {
	out := make([]Value, len(values))

	for i := range values {
		if i < window-1 {
			out[i] = optional.None[float64]()

			continue
		}

		best := values[i-window+1]
		for _, v := range values[i-window+2 : i+1] {
			if sign*v > sign*best {
				best = v
			}
		}

		out[i] = optional.Some(best)
	}

	return out
}

// RollingMax computes the highest value over each trailing window.
func RollingMax(values []float64, window int) ([]Value, error) {
	if err := validateWindow("rolling max", window); err != nil {
		return nil, err
	}

	return rollingExtreme(values, window, 1), nil
}

// RollingMin computes the lowest value over each trailing window.
func RollingMin(values []float64, window int) ([]Value, error) {
	if err := validateWindow("rolling min", window); err != nil {
		return nil, err
	}

	return rollingExtreme(values, window, -1), nil
}

// WarmUp returns the index of the first defined value, or len(out) when the
// series never warms up.
func WarmUp(out []Value) int {
	for i, v := range out {
		if v.IsSome() {
			return i
		}
	}

	return len(out)
}
