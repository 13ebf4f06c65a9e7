package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
)

func buildBollingerReversion(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	period := cfg.Int("period", 20)
	k := cfg.Float("band_width", 2)

	res, err := indicator.Bollinger(series.Closes(), period, k)
	if err != nil {
		return nil, 0, err
	}

	values := map[string][]indicator.Value{
		"middle": res.Middle,
		"upper":  res.Upper,
		"lower":  res.Lower,
	}

	return values, period - 1, nil
}

// analyzeBollingerReversion buys closes below the lower band while flat and
// sells closes above the upper band while holding.
func analyzeBollingerReversion(cfg Config, ctx Context) (types.Signal, error) {
	upper, okU := ctx.Cur("upper")
	lower, okL := ctx.Cur("lower")
	middle, okM := ctx.Cur("middle")

	if !okU || !okL || !okM {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "bands not warmed up"), nil
	}

	close := ctx.Bar().Close
	width := upper - lower

	if close < lower && ctx.Position.Flat() {
		confidence := 0.5
		if width > 0 {
			confidence = clampConfidence(0.5 + (lower-close)/width)
		}

		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("close %.4f below lower band %.4f", close, lower),
		}

		return attachProtectiveStops(cfg, sig, close), nil
	}

	if close > upper && !ctx.Position.Flat() {
		confidence := 0.5
		if width > 0 {
			confidence = clampConfidence(0.5 + (close-upper)/width)
		}

		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: confidence,
			Reason:     fmt.Sprintf("close %.4f above upper band %.4f", close, upper),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time,
		fmt.Sprintf("close %.4f inside bands around %.4f", close, middle)), nil
}
