package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
)

func buildStochastic(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	kWindow := cfg.Int("k_period", 14)
	dWindow := cfg.Int("d_period", 3)

	res, err := indicator.Stochastic(series.Bars, kWindow, dWindow)
	if err != nil {
		return nil, 0, err
	}

	values := map[string][]indicator.Value{
		"k": res.K,
		"d": res.D,
	}

	// %D warms up dWindow-1 bars after %K, and the cross test needs one
	// prior defined bar.
	return values, kWindow + dWindow - 1, nil
}

// analyzeStochastic buys a %K/%D bullish cross inside the oversold zone
// while flat, and sells a bearish cross inside the overbought zone while
// holding.
func analyzeStochastic(cfg Config, ctx Context) (types.Signal, error) {
	k, okK := ctx.Cur("k")
	d, okD := ctx.Cur("d")
	prevK, okPK := ctx.Prev("k")
	prevD, okPD := ctx.Prev("d")

	if !okK || !okD || !okPK || !okPD {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "stochastic not warmed up"), nil
	}

	oversold := cfg.Float("oversold", 20)
	overbought := cfg.Float("overbought", 80)

	if k > d && prevK <= prevD && k < oversold && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: clampConfidence((oversold - k) / oversold),
			Reason:     fmt.Sprintf("%%K %.2f crossed above %%D %.2f in oversold zone", k, d),
		}

		return attachProtectiveStops(cfg, sig, ctx.Bar().Close), nil
	}

	if k < d && prevK >= prevD && k > overbought && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: clampConfidence((k - overbought) / (100 - overbought)),
			Reason:     fmt.Sprintf("%%K %.2f crossed below %%D %.2f in overbought zone", k, d),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, "no stochastic cross in zone"), nil
}
