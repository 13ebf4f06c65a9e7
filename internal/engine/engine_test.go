package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/strategy"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesFromCloses(t *testing.T, symbol string, closes []float64) types.Series {
	t.Helper()

	bars := make([]types.PriceBar, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, c := range closes {
		bars[i] = types.PriceBar{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c,
			High:   c * 1.02,
			Low:    c * 0.98,
			Close:  c,
			Volume: 1_000_000,
		}
	}

	series, err := types.NewSeries(symbol, bars)
	require.NoError(t, err)

	return series
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	return closes
}

func crossoverConfig() Config {
	return Config{
		InitialCapital: 100000,
		Symbol:         "AAPL",
		Strategy: strategy.Config{
			Kind:   strategy.KindSMACrossover,
			Params: types.ParameterSet{"short_period": 5, "long_period": 20},
		},
	}
}

func TestHoldOnlyRunIsFlat(t *testing.T) {
	// A constant price never produces a crossover, so every bar holds.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}

	series := seriesFromCloses(t, "AAPL", closes)

	eng, err := New(crossoverConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, result.Rejections)
	require.Len(t, result.EquityCurve, 40)

	for _, point := range result.EquityCurve {
		assert.Equal(t, 100000.0, point.Equity)
	}

	assert.Equal(t, 100000.0, result.FinalEquity)
	assert.Zero(t, result.Metrics.TotalPnL)
}

func TestRisingSeriesSingleBuyScenario(t *testing.T) {
	// 60 strictly rising daily closes with an SMA(5)/SMA(20) crossover:
	// exactly one buy at the first warmed-up bar, no sell afterwards, one
	// open position at run end and final equity above initial cash.
	series := seriesFromCloses(t, "AAPL", risingCloses(60))

	eng, err := New(crossoverConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, types.OrderSideBuy, result.Trades[0].Side)
	assert.Equal(t, series.Bars[19].Time, result.Trades[0].ExecutedAt)
	assert.Empty(t, result.Rejections)
	assert.Empty(t, result.UnfilledOrders)
	assert.Greater(t, result.FinalEquity, result.InitialCash)
	assert.Greater(t, result.Metrics.TotalPnL, 0.0)
	assert.Equal(t, 60, result.BarsProcessed)

	// The position is still open, so all profit is unrealized.
	assert.Zero(t, result.Metrics.ClosedTrades)
	assert.Greater(t, result.Metrics.UnrealizedPnL, 0.0)
	assert.True(t, result.Metrics.ProfitFactor.IsNone())
	assert.Equal(t, "inf", result.Metrics.ProfitFactorStr)
}

func TestRunIsDeterministic(t *testing.T) {
	series := seriesFromCloses(t, "AAPL", risingCloses(60))

	cfg := crossoverConfig()
	cfg.Commission.Model = "per_share"
	cfg.Commission.Rate = 0.005
	cfg.Commission.Minimum = 1
	cfg.Slippage.Kind = "basis_points"
	cfg.Slippage.BasisPoints = 5

	run := func() types.BacktestResult {
		eng, err := New(cfg, logger.NewNopLogger())
		require.NoError(t, err)

		result, err := eng.Run(context.Background(), series, nil)
		require.NoError(t, err)

		return result
	}

	first := run()
	second := run()

	assert.Equal(t, first, second)
}

func TestEquityInvariantHoldsEveryBar(t *testing.T) {
	// Rise then fall to force a round trip through buy and sell.
	closes := risingCloses(40)
	for i := 40; i < 70; i++ {
		closes = append(closes, closes[39]-2*float64(i-39))
	}

	series := seriesFromCloses(t, "AAPL", closes)

	cfg := crossoverConfig()
	cfg.Commission.Model = "flat"
	cfg.Commission.Rate = 1

	eng, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)

	// The run itself verifies the identity per bar; a buy and a sell must
	// both have happened for the check to mean anything.
	require.NotEmpty(t, result.Trades)
	assert.GreaterOrEqual(t, result.Metrics.ClosedTrades, 1)
	assert.Len(t, result.EquityCurve, series.Len())
}

func TestStopLossExitsPosition(t *testing.T) {
	// Rise long enough to enter, then gap down through the stop.
	closes := risingCloses(30)
	for i := 30; i < 45; i++ {
		closes = append(closes, closes[29]-4*float64(i-29))
	}

	series := seriesFromCloses(t, "AAPL", closes)

	cfg := crossoverConfig()
	cfg.Strategy.Params = types.ParameterSet{
		"short_period":  5,
		"long_period":   20,
		"stop_loss_pct": 0.03,
	}

	eng, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)

	var stopExit *types.Trade

	for i := range result.Trades {
		if result.Trades[i].Reason.Reason == types.OrderReasonStopLoss {
			stopExit = &result.Trades[i]
		}
	}

	require.NotNil(t, stopExit, "stop-loss should have triggered in the decline")
	assert.Equal(t, types.OrderSideSell, stopExit.Side)
	assert.Less(t, stopExit.PnL, 0.0)
}

func TestRiskRejectionRecordedAndReplayContinues(t *testing.T) {
	series := seriesFromCloses(t, "AAPL", risingCloses(60))

	cfg := crossoverConfig()
	cfg.Risk = types.RiskProfile{
		MaxPositionPct:  0.50,
		MaxPortfolioVaR: 0.00001,
		// Any volatility makes the projected VaR breach the tiny limit.
		VolatilityWindow: 10,
	}

	eng, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)

	require.NotEmpty(t, result.Rejections)
	assert.Equal(t, types.RejectionVaRBreach, result.Rejections[0].Kind)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 100000.0, result.FinalEquity, "a rejection must not move the portfolio")
}

func TestRejectedSignalLandsInOrderLedger(t *testing.T) {
	series := seriesFromCloses(t, "AAPL", risingCloses(60))

	cfg := crossoverConfig()
	cfg.Risk = types.RiskProfile{
		MaxPositionPct:   0.50,
		MaxPortfolioVaR:  0.00001,
		VolatilityWindow: 10,
	}

	eng, err := New(cfg, logger.NewNopLogger())
	require.NoError(t, err)

	dir := t.TempDir()
	eng.SetResultsFolder(dir)

	result, err := eng.Run(context.Background(), series, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Rejections)

	db, err := sql.Open("duckdb", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	// Every rejection gets a matching order row in its terminal state.
	row := db.QueryRow(fmt.Sprintf(
		`SELECT COUNT(*) FROM read_parquet('%s') WHERE status = 'REJECTED' AND reason = 'risk_rejection'`,
		filepath.Join(dir, "orders.parquet")))

	var rejected int
	require.NoError(t, row.Scan(&rejected))
	assert.Equal(t, len(result.Rejections), rejected)
}

func TestRunCancellation(t *testing.T) {
	series := seriesFromCloses(t, "AAPL", risingCloses(60))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, err := New(crossoverConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	_, err = eng.Run(ctx, series, nil)
	require.Error(t, err)
}

func TestRunEmptySeries(t *testing.T) {
	eng, err := New(crossoverConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), types.Series{Symbol: "AAPL"}, nil)
	require.Error(t, err)
}

func TestOnBarCallbackSeesEveryBar(t *testing.T) {
	series := seriesFromCloses(t, "AAPL", risingCloses(25))

	eng, err := New(crossoverConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	var calls []int

	_, err = eng.Run(context.Background(), series, func(current, total int) {
		assert.Equal(t, 25, total)
		calls = append(calls, current)
	})
	require.NoError(t, err)

	require.Len(t, calls, 25)
	assert.Equal(t, 1, calls[0])
	assert.Equal(t, 25, calls[24])
}
