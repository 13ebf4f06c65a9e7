package indicator

import (
	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/moznion/go-optional"
)

// BollingerResult holds the middle band and the two outer bands.
type BollingerResult struct {
	Middle []Value
	Upper  []Value
	Lower  []Value
}

// Bollinger computes Bollinger Bands: SMA(window) +/- k * rolling stddev.
func Bollinger(values []float64, window int, k float64) (BollingerResult, error) {
	if err := validateWindow("bollinger", window); err != nil {
		return BollingerResult{}, err
	}

	if k <= 0 {
		return BollingerResult{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"bollinger band width must be positive, got %g", k)
	}

	middle, err := SMA(values, window)
	if err != nil {
		return BollingerResult{}, err
	}

	stddev, err := RollingStdDev(values, window)
	if err != nil {
		return BollingerResult{}, err
	}

	upper := make([]Value, len(values))
	lower := make([]Value, len(values))

	for i := range values {
		if middle[i].IsSome() && stddev[i].IsSome() {
			band := k * stddev[i].Unwrap()
			upper[i] = optional.Some(middle[i].Unwrap() + band)
			lower[i] = optional.Some(middle[i].Unwrap() - band)
		} else {
			upper[i] = optional.None[float64]()
			lower[i] = optional.None[float64]()
		}
	}

	return BollingerResult{Middle: middle, Upper: upper, Lower: lower}, nil
}
