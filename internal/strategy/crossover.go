package strategy

import (
	"fmt"
	"math"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
)

// buildCrossover precomputes the short and long moving averages for both
// the SMA and EMA crossover kinds.
func buildCrossover(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	short := cfg.Int("short_period", 5)
	long := cfg.Int("long_period", 20)

	if short >= long {
		return nil, 0, errorShortNotBelowLong(cfg.Kind, short, long)
	}

	closes := series.Closes()

	var (
		shortMA, longMA []indicator.Value
		err             error
	)

	if cfg.Kind == KindEMACrossover {
		shortMA, err = indicator.EMA(closes, short)
		if err == nil {
			longMA, err = indicator.EMA(closes, long)
		}
	} else {
		shortMA, err = indicator.SMA(closes, short)
		if err == nil {
			longMA, err = indicator.SMA(closes, long)
		}
	}

	if err != nil {
		return nil, 0, err
	}

	values := map[string][]indicator.Value{
		"short": shortMA,
		"long":  longMA,
	}

	return values, long - 1, nil
}

// analyzeCrossover emits BUY when the short average crosses above the long
// average while flat, SELL when it crosses below while holding. On the
// first bar where both averages are defined there is no previous value to
// cross from; the prevailing side counts as the cross, so a series that is
// already trending at warm-up completion fires exactly once.
func analyzeCrossover(cfg Config, ctx Context) (types.Signal, error) {
	short, okS := ctx.Cur("short")
	long, okL := ctx.Cur("long")

	if !okS || !okL {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "moving averages not warmed up"), nil
	}

	prevShort, okPS := ctx.Prev("short")
	prevLong, okPL := ctx.Prev("long")
	havePrev := okPS && okPL

	close := ctx.Bar().Close
	confidence := clampConfidence(math.Abs(short-long) / close * 100)

	if short > long && (!havePrev || prevShort <= prevLong) && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("short MA %.4f crossed above long MA %.4f", short, long),
		}

		return attachProtectiveStops(cfg, sig, close), nil
	}

	if short < long && (!havePrev || prevShort >= prevLong) && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: confidence,
			Reason:     fmt.Sprintf("short MA %.4f crossed below long MA %.4f", short, long),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, "no crossover"), nil
}
