// Package analytics derives summary statistics from a finished run. Every
// metric is computed read-only from the equity curve and the trade ledger;
// nothing here feeds back into replay.
package analytics

import (
	"fmt"
	"math"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/moznion/go-optional"
)

// Compute builds the full metric set for a completed run. periodsPerYear
// annualizes Sharpe and Sortino; 252 is the convention for daily bars.
func Compute(curve []types.EquityPoint, trades []types.Trade, initialCash, buyAndHoldPnL float64, periodsPerYear int) types.Metrics {
	returns := periodReturns(curve)

	metrics := types.Metrics{
		Sharpe:        sharpe(returns, periodsPerYear),
		Sortino:       sortino(returns, periodsPerYear),
		MaxDrawdown:   MaxDrawdown(curve),
		BuyAndHoldPnL: buyAndHoldPnL,
	}

	for _, trade := range trades {
		metrics.TradeCount++
		metrics.TotalFees += trade.Fee

		if !trade.Closing() {
			continue
		}

		metrics.ClosedTrades++
		metrics.RealizedPnL += trade.PnL

		if trade.PnL > 0 {
			metrics.WinningTrades++
		} else if trade.PnL < 0 {
			metrics.LosingTrades++
		}

		if trade.PnL > metrics.MaxTradeProfit {
			metrics.MaxTradeProfit = trade.PnL
		}

		if trade.PnL < metrics.MaxTradeLoss {
			metrics.MaxTradeLoss = trade.PnL
		}
	}

	if metrics.ClosedTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.ClosedTrades)
	}

	metrics.ProfitFactor = profitFactor(trades)
	metrics.ProfitFactorStr = formatProfitFactor(metrics.ProfitFactor)

	if n := len(curve); n > 0 {
		metrics.TotalPnL = curve[n-1].Equity - initialCash
	}

	metrics.UnrealizedPnL = metrics.TotalPnL - metrics.RealizedPnL

	return metrics
}

// periodReturns converts an equity curve into per-period simple returns.
func periodReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(curve)-1)

	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}

		returns = append(returns, curve[i].Equity/prev-1)
	}

	return returns
}

// sharpe is mean return over its standard deviation, annualized. Zero when
// the deviation is zero: a flat curve has no risk-adjusted return to report.
func sharpe(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}

	mu := mean(returns)

	sigma := stdDev(returns, mu)
	if sigma == 0 {
		return 0
	}

	return mu / sigma * math.Sqrt(float64(periodsPerYear))
}

// sortino replaces the full deviation with downside deviation, measured
// against a zero target return.
func sortino(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}

	mu := mean(returns)

	downside := 0.0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}

	downside = math.Sqrt(downside / float64(len(returns)))
	if downside == 0 {
		return 0
	}

	return mu / downside * math.Sqrt(float64(periodsPerYear))
}

// MaxDrawdown returns the largest peak-to-trough equity decline as a
// positive fraction of the peak.
func MaxDrawdown(curve []types.EquityPoint) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0

	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}

		if peak > 0 {
			if dd := (peak - point.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// profitFactor is gross profit over gross loss across closing trades. When
// gross loss is zero the ratio is undefined and reported as None, a
// sentinel rather than a runtime error.
func profitFactor(trades []types.Trade) optional.Option[float64] {
	grossProfit := 0.0
	grossLoss := 0.0

	for _, trade := range trades {
		if !trade.Closing() {
			continue
		}

		if trade.PnL > 0 {
			grossProfit += trade.PnL
		} else {
			grossLoss += -trade.PnL
		}
	}

	if grossLoss == 0 {
		return optional.None[float64]()
	}

	return optional.Some(grossProfit / grossLoss)
}

func formatProfitFactor(pf optional.Option[float64]) string {
	if pf.IsNone() {
		return "inf"
	}

	return fmt.Sprintf("%.4f", pf.Unwrap())
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

func stdDev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(xs)-1))
}
