package indicator

import (
	"math"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/moznion/go-optional"
)

// TrueRange returns the true range of each bar: max(high-low,
// |high-prevClose|, |low-prevClose|). The first bar uses high-low.
func TrueRange(bars []types.PriceBar) []float64 {
	out := make([]float64, len(bars))

	for i, bar := range bars {
		tr := bar.High - bar.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			tr = math.Max(tr, math.Abs(bar.High-prevClose))
			tr = math.Max(tr, math.Abs(bar.Low-prevClose))
		}

		out[i] = tr
	}

	return out
}

// ATR computes the Average True Range with Wilder's smoothing, seeded by the
// simple average of the first window true ranges.
func ATR(bars []types.PriceBar, window int) ([]Value, error) {
	if err := validateWindow("atr", window); err != nil {
		return nil, err
	}

	tr := TrueRange(bars)
	out := make([]Value, len(bars))

	sum := 0.0
	prev := 0.0

	for i, v := range tr {
		switch {
		case i < window-1:
			sum += v
			out[i] = optional.None[float64]()
		case i == window-1:
			sum += v
			prev = sum / float64(window)
			out[i] = optional.Some(prev)
		default:
			prev = (prev*float64(window-1) + v) / float64(window)
			out[i] = optional.Some(prev)
		}
	}

	return out, nil
}

// Returns computes per-bar close-to-close returns. The first element is
// always zero: there is no prior close to compare against.
func Returns(values []float64) []float64 {
	out := make([]float64, len(values))

	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i] = values[i]/values[i-1] - 1
		}
	}

	return out
}

// Volatility returns the standard deviation of the trailing `window` returns
// ending at index i, or zero when not enough history exists.
func Volatility(returns []float64, window int, i int) float64 {
	if window <= 0 || i+1 < window {
		return 0
	}

	start := i + 1 - window
	mean := 0.0

	for _, r := range returns[start : i+1] {
		mean += r
	}

	mean /= float64(window)

	variance := 0.0
	for _, r := range returns[start : i+1] {
		diff := r - mean
		variance += diff * diff
	}

	return math.Sqrt(variance / float64(window))
}
