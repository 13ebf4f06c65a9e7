package types

import (
	"time"

	"github.com/meridianlab/gobacktest/pkg/errors"
)

// PriceBar is a single OHLCV bar. Bars are immutable once ingested.
type PriceBar struct {
	Time   time.Time `csv:"time" yaml:"time"`
	Open   float64   `csv:"open" yaml:"open"`
	High   float64   `csv:"high" yaml:"high"`
	Low    float64   `csv:"low" yaml:"low"`
	Close  float64   `csv:"close" yaml:"close"`
	Volume float64   `csv:"volume" yaml:"volume"`
}

// Series is an ordered sequence of price bars for one symbol with strictly
// increasing timestamps.
type Series struct {
	Symbol string
	Bars   []PriceBar
}

// NewSeries validates and wraps a bar sequence. Bars must be non-empty and
// strictly increasing in time; violations are data errors.
func NewSeries(symbol string, bars []PriceBar) (Series, error) {
	if symbol == "" {
		return Series{}, errors.New(errors.ErrCodeMalformedBar, "series symbol is empty")
	}

	if len(bars) == 0 {
		return Series{}, errors.Newf(errors.ErrCodeEmptySeries, "no bars supplied for symbol %s", symbol)
	}

	for i, bar := range bars {
		if bar.High < bar.Low {
			return Series{}, errors.Newf(errors.ErrCodeMalformedBar,
				"bar %d for %s has high %.4f below low %.4f", i, symbol, bar.High, bar.Low)
		}

		if i > 0 && !bar.Time.After(bars[i-1].Time) {
			return Series{}, errors.Newf(errors.ErrCodeUnorderedSeries,
				"bar %d for %s at %s is not after previous bar at %s",
				i, symbol, bar.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}

	return Series{Symbol: symbol, Bars: bars}, nil
}

// Len returns the number of bars in the series.
func (s Series) Len() int {
	return len(s.Bars)
}

// Closes returns the close price of every bar in order.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, bar := range s.Bars {
		closes[i] = bar.Close
	}

	return closes
}

// Slice returns the sub-series covering bars [from, to). The result shares
// the underlying bar storage; bars are immutable so this is safe.
func (s Series) Slice(from, to int) (Series, error) {
	if from < 0 || to > len(s.Bars) || from >= to {
		return Series{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"invalid series slice [%d, %d) over %d bars", from, to, len(s.Bars))
	}

	return Series{Symbol: s.Symbol, Bars: s.Bars[from:to]}, nil
}

// Resample aggregates every `factor` consecutive bars into one bar and is
// used to derive a secondary timeframe from the primary series. A trailing
// group shorter than factor is dropped so every output bar covers a full
// window.
func (s Series) Resample(factor int) (Series, error) {
	if factor <= 0 {
		return Series{}, errors.Newf(errors.ErrCodeInvalidTimeframe, "resample factor must be positive, got %d", factor)
	}

	if factor == 1 {
		return s, nil
	}

	groups := len(s.Bars) / factor
	if groups == 0 {
		return Series{}, errors.NewInsufficientDataErrorf(factor, len(s.Bars), s.Symbol,
			"cannot resample %d bars of %s by factor %d", len(s.Bars), s.Symbol, factor)
	}

	bars := make([]PriceBar, 0, groups)

	for g := 0; g < groups; g++ {
		chunk := s.Bars[g*factor : (g+1)*factor]
		agg := PriceBar{
			// Resampled bars are stamped with the close time of the window so
			// a bar never represents data from after its timestamp.
			Time:   chunk[len(chunk)-1].Time,
			Open:   chunk[0].Open,
			High:   chunk[0].High,
			Low:    chunk[0].Low,
			Close:  chunk[len(chunk)-1].Close,
			Volume: 0,
		}

		for _, bar := range chunk {
			if bar.High > agg.High {
				agg.High = bar.High
			}

			if bar.Low < agg.Low {
				agg.Low = bar.Low
			}

			agg.Volume += bar.Volume
		}

		bars = append(bars, agg)
	}

	return Series{Symbol: s.Symbol, Bars: bars}, nil
}
