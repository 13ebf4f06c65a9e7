package indicator

import (
	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/moznion/go-optional"
)

// MACDResult holds the three MACD output series.
type MACDResult struct {
	// Line is EMA(fast) - EMA(slow).
	Line []Value
	// Signal is the EMA of Line over the signal window.
	Signal []Value
	// Histogram is Line - Signal.
	Histogram []Value
}

// MACD computes the Moving Average Convergence Divergence series.
func MACD(values []float64, fast, slow, signal int) (MACDResult, error) {
	if err := validateWindow("macd fast", fast); err != nil {
		return MACDResult{}, err
	}

	if err := validateWindow("macd slow", slow); err != nil {
		return MACDResult{}, err
	}

	if err := validateWindow("macd signal", signal); err != nil {
		return MACDResult{}, err
	}

	if fast >= slow {
		return MACDResult{}, errors.Newf(errors.ErrCodeInvalidWindow,
			"macd fast window %d must be shorter than slow window %d", fast, slow)
	}

	fastEMA, err := EMA(values, fast)
	if err != nil {
		return MACDResult{}, err
	}

	slowEMA, err := EMA(values, slow)
	if err != nil {
		return MACDResult{}, err
	}

	line := make([]Value, len(values))
	for i := range values {
		if fastEMA[i].IsSome() && slowEMA[i].IsSome() {
			line[i] = optional.Some(fastEMA[i].Unwrap() - slowEMA[i].Unwrap())
		} else {
			line[i] = optional.None[float64]()
		}
	}

	// Signal line: EMA of the defined portion of the MACD line.
	start := WarmUp(line)
	signalLine := make([]Value, len(values))

	for i := range signalLine {
		signalLine[i] = optional.None[float64]()
	}

	if start < len(values) {
		defined := make([]float64, 0, len(values)-start)
		for _, v := range line[start:] {
			defined = append(defined, v.Unwrap())
		}

		signalEMA, err := EMA(defined, signal)
		if err != nil {
			return MACDResult{}, err
		}

		for i, v := range signalEMA {
			signalLine[start+i] = v
		}
	}

	histogram := make([]Value, len(values))
	for i := range values {
		if line[i].IsSome() && signalLine[i].IsSome() {
			histogram[i] = optional.Some(line[i].Unwrap() - signalLine[i].Unwrap())
		} else {
			histogram[i] = optional.None[float64]()
		}
	}

	return MACDResult{Line: line, Signal: signalLine, Histogram: histogram}, nil
}
