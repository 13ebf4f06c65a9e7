package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/moznion/go-optional"
)

// buildMultiTimeframe precomputes a moving-average crossover on the primary
// timeframe plus a trend filter on a secondary timeframe derived by
// resampling the primary series. The secondary trend is expanded back onto
// primary bar indices so analysis stays a pure per-bar lookup: entry i of
// "secondary_trend" holds +1/-1 for the latest fully closed secondary bar
// at or before primary bar i.
func buildMultiTimeframe(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	short := cfg.Int("short_period", 5)
	long := cfg.Int("long_period", 20)
	factor := cfg.Int("timeframe_factor", 4)

	if short >= long {
		return nil, 0, errorShortNotBelowLong(cfg.Kind, short, long)
	}

	closes := series.Closes()

	shortMA, err := indicator.SMA(closes, short)
	if err != nil {
		return nil, 0, err
	}

	longMA, err := indicator.SMA(closes, long)
	if err != nil {
		return nil, 0, err
	}

	secondary, err := series.Resample(factor)
	if err != nil {
		return nil, 0, err
	}

	secCloses := secondary.Closes()

	secShort, err := indicator.SMA(secCloses, short)
	if err != nil {
		return nil, 0, err
	}

	secLong, err := indicator.SMA(secCloses, long)
	if err != nil {
		return nil, 0, err
	}

	trend := make([]indicator.Value, series.Len())

	for i := range trend {
		// Latest secondary bar fully closed at or before primary bar i.
		j := (i+1)/factor - 1
		if j < 0 || j >= secondary.Len() || secShort[j].IsNone() || secLong[j].IsNone() {
			trend[i] = optional.None[float64]()

			continue
		}

		if secShort[j].Unwrap() > secLong[j].Unwrap() {
			trend[i] = optional.Some(1.0)
		} else {
			trend[i] = optional.Some(-1.0)
		}
	}

	values := map[string][]indicator.Value{
		"short":           shortMA,
		"long":            longMA,
		"secondary_trend": trend,
	}

	// Secondary warm-up dominates: the secondary long MA needs long
	// secondary bars, each covering factor primary bars.
	warmUp := long * factor
	if warmUp > series.Len() {
		warmUp = series.Len()
	}

	return values, warmUp, nil
}

// analyzeMultiTimeframe only emits a non-HOLD when the primary moving-average
// trend and the secondary timeframe trend agree. Entries are state based
// rather than cross based: the secondary warm-up outlasts the primary
// crossover event, so the strategy acts on the trend state that remains.
func analyzeMultiTimeframe(cfg Config, ctx Context) (types.Signal, error) {
	short, okS := ctx.Cur("short")
	long, okL := ctx.Cur("long")
	trend, okT := ctx.Cur("secondary_trend")

	if !okS || !okL || !okT {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "timeframes not warmed up"), nil
	}

	close := ctx.Bar().Close

	if short > long && trend > 0 && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: clampConfidence(0.5 + (short-long)/close*50),
			Reason:     fmt.Sprintf("primary uptrend confirmed by secondary uptrend (short %.4f > long %.4f)", short, long),
		}

		return attachProtectiveStops(cfg, sig, close), nil
	}

	if short < long && trend < 0 && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: clampConfidence(0.5 + (long-short)/close*50),
			Reason:     fmt.Sprintf("primary downtrend confirmed by secondary downtrend (short %.4f < long %.4f)", short, long),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, "timeframes not aligned"), nil
}
