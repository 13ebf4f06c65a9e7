package strategy

import (
	"fmt"
	"math"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
)

func buildIchimokuTrend(cfg Config, series types.Series) (map[string][]indicator.Value, int, error) {
	conversion := cfg.Int("conversion_period", 9)
	base := cfg.Int("base_period", 26)
	spanB := cfg.Int("span_b_period", 52)

	res, err := indicator.Ichimoku(series.Bars, conversion, base, spanB)
	if err != nil {
		return nil, 0, err
	}

	values := map[string][]indicator.Value{
		"conversion": res.Conversion,
		"base":       res.Base,
		"span_a":     res.SpanA,
		"span_b":     res.SpanB,
	}

	warmUp := spanB
	if base > warmUp {
		warmUp = base
	}

	return values, warmUp - 1, nil
}

// analyzeIchimokuTrend buys when price sits above the cloud with the
// conversion line above the base line, and sells when price falls below the
// cloud while holding.
func analyzeIchimokuTrend(cfg Config, ctx Context) (types.Signal, error) {
	conversion, okC := ctx.Cur("conversion")
	base, okB := ctx.Cur("base")
	spanA, okA := ctx.Cur("span_a")
	spanB, okSB := ctx.Cur("span_b")

	if !okC || !okB || !okA || !okSB {
		return types.Hold(ctx.Symbol, ctx.Bar().Time, "ichimoku not warmed up"), nil
	}

	close := ctx.Bar().Close
	cloudTop := math.Max(spanA, spanB)
	cloudBottom := math.Min(spanA, spanB)

	if close > cloudTop && conversion > base && ctx.Position.Flat() {
		sig := types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionBuy,
			Confidence: clampConfidence((close - cloudTop) / close * 20),
			Reason:     fmt.Sprintf("close %.4f above cloud top %.4f with bullish TK cross", close, cloudTop),
		}

		return attachProtectiveStops(cfg, sig, close), nil
	}

	if close < cloudBottom && !ctx.Position.Flat() {
		return types.Signal{
			Time:       ctx.Bar().Time,
			Symbol:     ctx.Symbol,
			Action:     types.SignalActionSell,
			Confidence: clampConfidence((cloudBottom - close) / close * 20),
			Reason:     fmt.Sprintf("close %.4f below cloud bottom %.4f", close, cloudBottom),
		}, nil
	}

	return types.Hold(ctx.Symbol, ctx.Bar().Time, "no ichimoku trend change"), nil
}
