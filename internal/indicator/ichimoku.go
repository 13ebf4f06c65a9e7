package indicator

import (
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/moznion/go-optional"
)

// IchimokuResult holds the Ichimoku component series. Spans are computed at
// the current bar without forward displacement so every value at index i is
// derived only from bars <= i.
type IchimokuResult struct {
	// Conversion (tenkan-sen): midpoint of the conversion window.
	Conversion []Value
	// Base (kijun-sen): midpoint of the base window.
	Base []Value
	// SpanA: midpoint of conversion and base lines.
	SpanA []Value
	// SpanB: midpoint of the span-B window.
	SpanB []Value
}

// Ichimoku computes the Ichimoku components from rolling midpoints of the
// given lookback windows (classically 9/26/52).
func Ichimoku(bars []types.PriceBar, conversionWindow, baseWindow, spanBWindow int) (IchimokuResult, error) {
	if err := validateWindow("ichimoku conversion", conversionWindow); err != nil {
		return IchimokuResult{}, err
	}

	if err := validateWindow("ichimoku base", baseWindow); err != nil {
		return IchimokuResult{}, err
	}

	if err := validateWindow("ichimoku span B", spanBWindow); err != nil {
		return IchimokuResult{}, err
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))

	for i, bar := range bars {
		highs[i] = bar.High
		lows[i] = bar.Low
	}

	conversion, err := midpoint(highs, lows, conversionWindow)
	if err != nil {
		return IchimokuResult{}, err
	}

	base, err := midpoint(highs, lows, baseWindow)
	if err != nil {
		return IchimokuResult{}, err
	}

	spanB, err := midpoint(highs, lows, spanBWindow)
	if err != nil {
		return IchimokuResult{}, err
	}

	spanA := make([]Value, len(bars))

	for i := range bars {
		if conversion[i].IsSome() && base[i].IsSome() {
			spanA[i] = optional.Some((conversion[i].Unwrap() + base[i].Unwrap()) / 2)
		} else {
			spanA[i] = optional.None[float64]()
		}
	}

	return IchimokuResult{Conversion: conversion, Base: base, SpanA: spanA, SpanB: spanB}, nil
}

// midpoint computes (highest high + lowest low) / 2 over a rolling window.
func midpoint(highs, lows []float64, window int) ([]Value, error) {
	highestHigh, err := RollingMax(highs, window)
	if err != nil {
		return nil, err
	}

	lowestLow, err := RollingMin(lows, window)
	if err != nil {
		return nil, err
	}

	out := make([]Value, len(highs))

	for i := range out {
		if highestHigh[i].IsSome() && lowestLow[i].IsSome() {
			out[i] = optional.Some((highestHigh[i].Unwrap() + lowestLow[i].Unwrap()) / 2)
		} else {
			out[i] = optional.None[float64]()
		}
	}

	return out, nil
}
