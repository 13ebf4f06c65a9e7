package engine

import (
	"testing"
	"time"

	"github.com/meridianlab/gobacktest/internal/analytics"
	"github.com/meridianlab/gobacktest/internal/engine/commission"
	"github.com/meridianlab/gobacktest/internal/engine/slippage"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T, maxParticipation float64) *Simulator {
	t.Helper()

	schedule, err := commission.NewSchedule(commission.Config{})
	require.NoError(t, err)

	model, err := slippage.NewModel(slippage.Config{})
	require.NoError(t, err)

	return NewSimulator(schedule, model, false, maxParticipation, logger.NewNopLogger())
}

func testBar(open, high, low, close, volume float64) types.PriceBar {
	return types.PriceBar{
		Time:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}
}

func testOrder(side types.OrderSide, orderType types.OrderType, qty float64) types.Order {
	return types.Order{
		ID:             "4b44b163-d6e7-5b27-a8b0-5c2b5e4c1111",
		Symbol:         "AAPL",
		Side:           side,
		Type:           orderType,
		Quantity:       qty,
		RequestedPrice: 100,
		Status:         types.OrderStatusCreated,
		Reason:         types.Reason{Reason: types.OrderReasonStrategy},
		StrategyName:   "test",
		CreatedAt:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMarketOrderFillsAtClose(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	order := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 100)

	trades, err := sim.Submit(p, &order, testBar(99, 102, 98, 101, 50000))
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, 101.0, trades[0].Price)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.Equal(t, 100.0, order.FilledQuantity)
	assert.Equal(t, 100.0, p.Position("AAPL").Quantity)
	assert.Empty(t, sim.Pending())
}

func TestMarketOrderFailsOnZeroVolume(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	order := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 100)

	trades, err := sim.Submit(p, &order, testBar(99, 102, 98, 101, 0))
	require.NoError(t, err)

	assert.Empty(t, trades)
	assert.Equal(t, types.OrderStatusFailed, order.Status)
	assert.Equal(t, types.OrderReasonLiquidity, order.Reason.Reason)
	assert.True(t, p.Position("AAPL").Flat())
}

func TestPartialFillByVolumeParticipation(t *testing.T) {
	sim := newTestSimulator(t, 0.10)
	p := NewPortfolio(1000000)

	// 10% of 5000 volume caps the first fill at 500 shares.
	order := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 800)

	trades, err := sim.Submit(p, &order, testBar(99, 102, 98, 100, 5000))
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, 500.0, trades[0].Quantity)
	assert.Equal(t, types.OrderStatusPartiallyFilled, order.Status)
	assert.Equal(t, 300.0, order.Remaining())
	require.Len(t, sim.Pending(), 1)

	// The remainder keeps filling on the next bar.
	trades, err = sim.EvaluatePending(p, testBar(100, 103, 99, 102, 5000))
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, 300.0, trades[0].Quantity)
	assert.Equal(t, 102.0, trades[0].Price)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.Empty(t, sim.Pending())
	assert.Equal(t, 800.0, p.Position("AAPL").Quantity)
}

func TestLimitBuyWaitsForPrice(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	order := testOrder(types.OrderSideBuy, types.OrderTypeLimit, 100)
	order.LimitPrice = 95

	trades, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, types.OrderStatusApproved, order.Status)

	// Bar that never reaches the limit leaves the order pending.
	trades, err = sim.EvaluatePending(p, testBar(100, 102, 96, 101, 50000))
	require.NoError(t, err)
	assert.Empty(t, trades)
	require.Len(t, sim.Pending(), 1)

	// The limit trades through; fill at the limit price.
	trades, err = sim.EvaluatePending(p, testBar(97, 98, 93, 94, 50000))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 95.0, trades[0].Price)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
}

func TestLimitBuyGapFillsAtOpen(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	order := testOrder(types.OrderSideBuy, types.OrderTypeLimit, 100)
	order.LimitPrice = 95

	_, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)

	// Opens below the limit: price improvement, fill at the open.
	trades, err := sim.EvaluatePending(p, testBar(92, 94, 91, 93, 50000))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 92.0, trades[0].Price)
}

func TestStopSellTriggersOnLow(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 100, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))

	order := testOrder(types.OrderSideSell, types.OrderTypeStop, 100)
	order.StopPrice = 95

	_, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)

	trades, err := sim.EvaluatePending(p, testBar(97, 98, 94, 95, 50000))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 95.0, trades[0].Price)
	assert.True(t, p.Position("AAPL").Flat())
}

func TestTrailingStopRatchets(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 100, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))

	order := testOrder(types.OrderSideSell, types.OrderTypeTrailingStop, 100)
	order.TrailPct = 0.05

	_, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)

	// Rally: the stop trails 5% behind the best close (now 110 -> 104.5).
	trades, err := sim.EvaluatePending(p, testBar(102, 110, 101, 110, 50000))
	require.NoError(t, err)
	assert.Empty(t, trades)

	// Dip to 106 stays above the trailed stop.
	trades, err = sim.EvaluatePending(p, testBar(108, 109, 106, 107, 50000))
	require.NoError(t, err)
	assert.Empty(t, trades)

	// Break below 104.5 triggers the exit.
	trades, err = sim.EvaluatePending(p, testBar(105, 106, 103, 104, 50000))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 104.5, trades[0].Price, 1e-9)
}

func TestFlatSellFailsWithoutShorting(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	order := testOrder(types.OrderSideSell, types.OrderTypeMarket, 100)

	trades, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)

	assert.Empty(t, trades)
	assert.Equal(t, types.OrderStatusFailed, order.Status)
	assert.Equal(t, types.OrderReasonNoPosition, order.Reason.Reason)
}

func TestSellClampedToHeldQuantity(t *testing.T) {
	sim := newTestSimulator(t, 0)
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 60, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))

	order := testOrder(types.OrderSideSell, types.OrderTypeMarket, 100)

	trades, err := sim.Submit(p, &order, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, 60.0, trades[0].Quantity)
	assert.True(t, p.Position("AAPL").Flat())
}

// tieredFeeSchedule charges a surcharge that grows as the lot shrinks, so a
// single refinement of the cash clamp keeps landing above the balance.
type tieredFeeSchedule struct{}

func (tieredFeeSchedule) Calculate(quantity, _ float64) float64 {
	switch {
	case quantity >= 10:
		return 5
	case quantity >= 8:
		return 30
	default:
		return 45
	}
}

func TestBuyClampConvergesOnTieredFees(t *testing.T) {
	model, err := slippage.NewModel(slippage.Config{})
	require.NoError(t, err)

	sim := NewSimulator(tieredFeeSchedule{}, model, false, 0, logger.NewNopLogger())
	p := NewPortfolio(100)

	order := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 20)

	trades, err := sim.Submit(p, &order, testBar(10, 10.2, 9.8, 10, 50000))
	require.NoError(t, err)

	require.Len(t, trades, 1)
	assert.Equal(t, types.OrderStatusPartiallyFilled, order.Status)
	assert.LessOrEqual(t, trades[0].Quantity*trades[0].Price+trades[0].Fee, 100.0)
	assert.GreaterOrEqual(t, p.Cash(), 0.0)
}

func TestShortRoundTripCoverCarriesRealizedPnL(t *testing.T) {
	schedule, err := commission.NewSchedule(commission.Config{})
	require.NoError(t, err)

	model, err := slippage.NewModel(slippage.Config{})
	require.NoError(t, err)

	sim := NewSimulator(schedule, model, true, 0, logger.NewNopLogger())
	p := NewPortfolio(100000)

	short := testOrder(types.OrderSideSell, types.OrderTypeMarket, 10)

	trades, err := sim.Submit(p, &short, testBar(100, 101, 99, 100, 50000))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.False(t, trades[0].Closing())
	assert.Equal(t, -10.0, p.Position("AAPL").Quantity)

	cover := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 10)
	cover.ID = "4b44b163-d6e7-5b27-a8b0-5c2b5e4c2222"

	more, err := sim.Submit(p, &cover, testBar(92, 93, 89, 90, 50000))
	require.NoError(t, err)
	require.Len(t, more, 1)
	require.True(t, more[0].Closing())
	assert.InDelta(t, 100.0, more[0].PnL, 1e-9)
	assert.True(t, p.Position("AAPL").Flat())

	curve := []types.EquityPoint{
		{Time: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Equity: 100000},
		{Time: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Equity: 100100},
	}

	metrics := analytics.Compute(curve, append(trades, more...), 100000, 0, 252)

	assert.Equal(t, 1, metrics.ClosedTrades)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.InDelta(t, 1.0, metrics.WinRate, 1e-12)
	assert.InDelta(t, 100.0, metrics.RealizedPnL, 1e-9)
}

func TestIllegalTransitionRejected(t *testing.T) {
	order := testOrder(types.OrderSideBuy, types.OrderTypeMarket, 100)

	require.NoError(t, order.Transition(types.OrderStatusApproved))
	require.NoError(t, order.Transition(types.OrderStatusFilled))

	err := order.Transition(types.OrderStatusApproved)
	require.Error(t, err)
	assert.True(t, order.Status.Terminal())
}
