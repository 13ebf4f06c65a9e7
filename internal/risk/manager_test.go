package risk

import (
	"math"
	"testing"
	"time"

	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buySignal(symbol string) types.Signal {
	return types.Signal{
		Time:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Symbol:     symbol,
		Action:     types.SignalActionBuy,
		Confidence: 0.8,
		Reason:     "test entry",
	}
}

func flatSnapshot(cash float64, prices map[string]float64) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		Cash:      cash,
		Equity:    cash,
		Positions: map[string]types.Position{},
		Prices:    prices,
	}
}

func TestFixedFractionalSizing(t *testing.T) {
	m, err := NewManager(types.RiskProfile{MaxPositionPct: 0.25}, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := flatSnapshot(100000, map[string]float64{"AAPL": 50})

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.True(t, decision.Approved)
	// 25% of 100k equity at price 50.
	assert.InDelta(t, 500.0, decision.Quantity, 1e-9)
}

func TestZeroLimitsMeanNoLimit(t *testing.T) {
	m, err := NewManager(types.RiskProfile{}, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := flatSnapshot(10000, map[string]float64{"AAPL": 100})

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.True(t, decision.Approved)
	assert.InDelta(t, 100.0, decision.Quantity, 1e-9)
}

func TestOversizedRejectionWhenAtCap(t *testing.T) {
	m, err := NewManager(types.RiskProfile{MaxPositionPct: 0.10}, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := types.PortfolioSnapshot{
		Cash:   90000,
		Equity: 100000,
		Positions: map[string]types.Position{
			"AAPL": {Symbol: "AAPL", Quantity: 100, AverageCost: 100},
		},
		Prices: map[string]float64{"AAPL": 100},
	}

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.False(t, decision.Approved)
	assert.Equal(t, types.RejectionOversized, decision.Rejection.Kind)
	assert.Equal(t, "AAPL", decision.Rejection.Symbol)
	assert.NotEmpty(t, decision.Rejection.Detail)
}

func TestBuyCappedByAvailableCash(t *testing.T) {
	m, err := NewManager(types.RiskProfile{MaxPositionPct: 0.50}, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := types.PortfolioSnapshot{
		Cash:   1000,
		Equity: 100000,
		Positions: map[string]types.Position{
			"MSFT": {Symbol: "MSFT", Quantity: 300, AverageCost: 330},
		},
		Prices: map[string]float64{"AAPL": 100, "MSFT": 330},
	}

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.True(t, decision.Approved)
	assert.InDelta(t, 10.0, decision.Quantity, 1e-9)
}

func TestVolatilityAdjustedSizingScalesDown(t *testing.T) {
	profile := types.RiskProfile{
		MaxPositionPct:   0.20,
		Sizing:           types.SizingVolatilityAdjusted,
		VolatilityTarget: 0.01,
		VolatilityWindow: 20,
	}

	m, err := NewManager(profile, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := flatSnapshot(100000, map[string]float64{"AAPL": 100})
	snapshot.Volatility = 0.04

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.True(t, decision.Approved)
	// Full size 200 shares scaled by target/actual volatility = 0.25.
	assert.InDelta(t, 50.0, decision.Quantity, 1e-9)

	// At or below target volatility the full size applies.
	snapshot.Volatility = 0.01
	decision = m.Evaluate(buySignal("AAPL"), snapshot)
	require.True(t, decision.Approved)
	assert.InDelta(t, 200.0, decision.Quantity, 1e-9)
}

func TestVolatilityAdjustedRequiresTarget(t *testing.T) {
	profile := types.RiskProfile{Sizing: types.SizingVolatilityAdjusted}

	_, err := NewManager(profile, logger.NewNopLogger())
	require.Error(t, err)
}

func TestConcentrationRejection(t *testing.T) {
	profile := types.RiskProfile{
		MaxPositionPct:            0.30,
		MaxSectorConcentrationPct: 0.40,
		Sectors: map[string]string{
			"AAPL": "tech",
			"MSFT": "tech",
			"XOM":  "energy",
		},
	}

	m, err := NewManager(profile, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := types.PortfolioSnapshot{
		Cash:   70000,
		Equity: 100000,
		Positions: map[string]types.Position{
			"MSFT": {Symbol: "MSFT", Quantity: 100, AverageCost: 300},
		},
		Prices: map[string]float64{"AAPL": 100, "MSFT": 300, "XOM": 80},
	}

	// Tech already holds 30k; a 30% AAPL buy would push the sector to 60k,
	// past the 40k limit.
	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.False(t, decision.Approved)
	assert.Equal(t, types.RejectionConcentration, decision.Rejection.Kind)

	// A different sector is unaffected.
	decision = m.Evaluate(buySignal("XOM"), snapshot)
	assert.True(t, decision.Approved)
}

func TestVaRRejectionOnFlatPortfolioUsesSymbolVolatility(t *testing.T) {
	profile := types.RiskProfile{
		MaxPositionPct:  0.50,
		MaxPortfolioVaR: 0.02,
	}

	m, err := NewManager(profile, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := flatSnapshot(100000, map[string]float64{"AAPL": 100})
	snapshot.Volatility = 0.05

	// 50% exposure at 5% per-bar volatility: 1.645*0.05*0.5 ≈ 0.041 > 0.02.
	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.False(t, decision.Approved)
	assert.Equal(t, types.RejectionVaRBreach, decision.Rejection.Kind)
}

func TestVaRPassesWithCalmHistory(t *testing.T) {
	profile := types.RiskProfile{
		MaxPositionPct:  0.10,
		MaxPortfolioVaR: 0.10,
	}

	m, err := NewManager(profile, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := types.PortfolioSnapshot{
		Cash:   80000,
		Equity: 100000,
		Positions: map[string]types.Position{
			"MSFT": {Symbol: "MSFT", Quantity: 50, AverageCost: 400},
		},
		Prices:  map[string]float64{"AAPL": 100, "MSFT": 400},
		Returns: []float64{0.001, -0.002, 0.0005, 0.001, -0.001},
	}

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	assert.True(t, decision.Approved)
}

func TestDailyLossBudgetBlocksNewRisk(t *testing.T) {
	profile := types.RiskProfile{MaxPositionPct: 0.20, MaxDailyLossPct: 0.03}

	m, err := NewManager(profile, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := types.PortfolioSnapshot{
		Cash:   50000,
		Equity: 97000,
		Positions: map[string]types.Position{
			"AAPL": {Symbol: "AAPL", Quantity: 470, AverageCost: 106},
		},
		Prices:      map[string]float64{"AAPL": 100},
		DailyPnLPct: -0.04,
	}

	decision := m.Evaluate(buySignal("AAPL"), snapshot)
	require.False(t, decision.Approved)
	assert.Equal(t, types.RejectionDailyLossBreach, decision.Rejection.Kind)

	// Risk-reducing sells stay allowed while the budget is exhausted.
	sell := buySignal("AAPL")
	sell.Action = types.SignalActionSell

	decision = m.Evaluate(sell, snapshot)
	require.True(t, decision.Approved)
	assert.InDelta(t, 470.0, decision.Quantity, 1e-9)
}

func TestSellWithoutPositionIsSizedAsNewRisk(t *testing.T) {
	m, err := NewManager(types.RiskProfile{MaxPositionPct: 0.10}, logger.NewNopLogger())
	require.NoError(t, err)

	snapshot := flatSnapshot(100000, map[string]float64{"AAPL": 100})

	sell := buySignal("AAPL")
	sell.Action = types.SignalActionSell

	decision := m.Evaluate(sell, snapshot)
	require.True(t, decision.Approved)
	assert.InDelta(t, 100.0, decision.Quantity, 1e-9)
}

func TestParametricVaR(t *testing.T) {
	assert.Zero(t, ParametricVaR(nil, Z95))
	assert.Zero(t, ParametricVaR([]float64{0.01}, Z95))

	returns := []float64{0.01, -0.02, 0.005, -0.01, 0.015}
	v95 := ParametricVaR(returns, Z95)
	v99 := ParametricVaR(returns, Z99)

	assert.Greater(t, v95, 0.0)
	assert.Greater(t, v99, v95)

	// Uniformly positive drift with zero variance has no downside.
	assert.Zero(t, ParametricVaR([]float64{0.01, 0.01, 0.01}, Z99))
	assert.False(t, math.IsNaN(v95))
}
