package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
)

func buildRSIReversion(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	period := cfg.Int("period", 14)
	oversold := cfg.Float("oversold", 30)
	overbought := cfg.Float("overbought", 70)

	if oversold >= overbought {
		return nil, 0, errors.Newf(errors.ErrCodeInvalidParameter,
			"rsi oversold threshold %g must be below overbought threshold %g", oversold, overbought)
	}

	rsi, err := indicator.RSI(series.Closes(), period)
	if err != nil {
		return nil, 0, err
	}

	return map[string][]indicator.Value{"rsi": rsi}, period, nil
}

// analyzeRSIReversion buys oversold conditions when flat and sells
// overbought conditions while holding (mean reversion).
func analyzeRSIReversion(cfg Config, ctx Context) (types.Signal, error) {
	rsi, ok := ctx.Cur("rsi")
	if !ok {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "rsi not warmed up"), nil
	}

	oversold := cfg.Float("oversold", 30)
	overbought := cfg.Float("overbought", 70)

	if rsi < oversold && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: clampConfidence((oversold - rsi) / oversold),
			Reason:     fmt.Sprintf("RSI oversold (value=%.2f)", rsi),
		}

		return attachProtectiveStops(cfg, sig, ctx.Bar().Close), nil
	}

	if rsi > overbought && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: clampConfidence((rsi - overbought) / (100 - overbought)),
			Reason:     fmt.Sprintf("RSI overbought (value=%.2f)", rsi),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, fmt.Sprintf("RSI neutral (value=%.2f)", rsi)), nil
}
