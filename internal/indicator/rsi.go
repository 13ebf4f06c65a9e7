package indicator

import (
	"github.com/moznion/go-optional"
)

// RSI computes the Relative Strength Index using Wilder's smoothed average
// gain and loss. The first value appears at index `window` (one price change
// per bar after the first).
func RSI(values []float64, window int) ([]Value, error) {
	if err := validateWindow("rsi", window); err != nil {
		return nil, err
	}

	out := make([]Value, len(values))
	for i := range out {
		out[i] = optional.None[float64]()
	}

	if len(values) <= window {
		return out, nil
	}

	avgGain := 0.0
	avgLoss := 0.0

	// First average over the initial window of price changes.
	for i := 1; i <= window; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}

	avgGain /= float64(window)
	avgLoss /= float64(window)
	out[window] = optional.Some(rsiFromAverages(avgGain, avgLoss))

	// Subsequent values use Wilder's smoothing.
	for i := window + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain := 0.0
		loss := 0.0

		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(window-1) + gain) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		out[i] = optional.Some(rsiFromAverages(avgGain, avgLoss))
	}

	return out, nil
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss

	return 100 - (100 / (1 + rs))
}
