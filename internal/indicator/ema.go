package indicator

import (
	"github.com/moznion/go-optional"
)

// EMA computes the exponential moving average with smoothing factor
// 2/(window+1), seeded by the SMA of the first window values.
func EMA(values []float64, window int) ([]Value, error) {
	if err := validateWindow("ema", window); err != nil {
		return nil, err
	}

	out := make([]Value, len(values))
	alpha := 2.0 / (float64(window) + 1.0)

	sum := 0.0
	prev := 0.0

	for i, v := range values {
		switch {
		case i < window-1:
			sum += v
			out[i] = optional.None[float64]()
		case i == window-1:
			sum += v
			prev = sum / float64(window)
			out[i] = optional.Some(prev)
		default:
			prev = alpha*v + (1-alpha)*prev
			out[i] = optional.Some(prev)
		}
	}

	return out, nil
}
