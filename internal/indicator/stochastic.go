package indicator

import (
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/moznion/go-optional"
)

// StochasticResult holds the %K and %D output series.
type StochasticResult struct {
	K []Value
	D []Value
}

// Stochastic computes the stochastic oscillator from rolling high/low
// windows: %K = 100 * (close - lowest low) / (highest high - lowest low),
// %D = SMA(%K, dWindow).
func Stochastic(bars []types.PriceBar, kWindow, dWindow int) (StochasticResult, error) {
	if err := validateWindow("stochastic %K", kWindow); err != nil {
		return StochasticResult{}, err
	}

	if err := validateWindow("stochastic %D", dWindow); err != nil {
		return StochasticResult{}, err
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))

	for i, bar := range bars {
		highs[i] = bar.High
		lows[i] = bar.Low
	}

	highestHigh, err := RollingMax(highs, kWindow)
	if err != nil {
		return StochasticResult{}, err
	}

	lowestLow, err := RollingMin(lows, kWindow)
	if err != nil {
		return StochasticResult{}, err
	}

	k := make([]Value, len(bars))

	for i, bar := range bars {
		if highestHigh[i].IsNone() || lowestLow[i].IsNone() {
			k[i] = optional.None[float64]()

			continue
		}

		spread := highestHigh[i].Unwrap() - lowestLow[i].Unwrap()
		if spread == 0 {
			// Flat window: price sits at both extremes, report midpoint.
			k[i] = optional.Some(50.0)

			continue
		}

		k[i] = optional.Some(100 * (bar.Close - lowestLow[i].Unwrap()) / spread)
	}

	// %D is the SMA of defined %K values.
	d := make([]Value, len(bars))
	for i := range d {
		d[i] = optional.None[float64]()
	}

	start := WarmUp(k)
	if start < len(bars) {
		defined := make([]float64, 0, len(bars)-start)
		for _, v := range k[start:] {
			defined = append(defined, v.Unwrap())
		}

		smoothed, err := SMA(defined, dWindow)
		if err != nil {
			return StochasticResult{}, err
		}

		for i, v := range smoothed {
			d[start+i] = v
		}
	}

	return StochasticResult{K: k, D: d}, nil
}
