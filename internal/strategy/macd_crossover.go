package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
)

func buildMACDCrossover(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	fast := cfg.Int("fast_period", 12)
	slow := cfg.Int("slow_period", 26)
	signal := cfg.Int("signal_period", 9)

	res, err := indicator.MACD(series.Closes(), fast, slow, signal)
	if err != nil {
		return nil, 0, err
	}

	values := map[string][]indicator.Value{
		"macd":   res.Line,
		"signal": res.Signal,
	}

	// The signal line needs its own window of defined MACD values, plus one
	// prior bar for the cross test.
	return values, slow + signal - 1, nil
}

// analyzeMACDCrossover buys when the MACD line crosses above its signal line
// while flat and sells the cross below while holding.
func analyzeMACDCrossover(cfg Config, ctx Context) (types.Signal, error) {
	macd, okM := ctx.Cur("macd")
	signal, okS := ctx.Cur("signal")
	prevMACD, okPM := ctx.Prev("macd")
	prevSignal, okPS := ctx.Prev("signal")

	if !okM || !okS || !okPM || !okPS {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "macd not warmed up"), nil
	}

	close := ctx.Bar().Close
	confidence := clampConfidence((macd - signal) / close * 100)

	if macd > signal && prevMACD <= prevSignal && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("MACD %.4f crossed above signal %.4f", macd, signal),
		}

		return attachProtectiveStops(cfg, sig, close), nil
	}

	if macd < signal && prevMACD >= prevSignal && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: clampConfidence((signal - macd) / close * 100),
			Reason:     fmt.Sprintf("MACD %.4f crossed below signal %.4f", macd, signal),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, "no MACD crossover"), nil
}
