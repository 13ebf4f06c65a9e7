package engine

import (
	"testing"
	"time"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buyFill(symbol string, qty, price, fee float64) types.Trade {
	return types.Trade{
		OrderID:    "o1",
		Symbol:     symbol,
		Side:       types.OrderSideBuy,
		Quantity:   qty,
		Price:      price,
		Fee:        fee,
		ExecutedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func sellFill(symbol string, qty, price, fee float64) types.Trade {
	trade := buyFill(symbol, qty, price, fee)
	trade.Side = types.OrderSideSell
	trade.ExecutedAt = trade.ExecutedAt.Add(24 * time.Hour)

	return trade
}

func TestBuyUpdatesAverageCostWithFees(t *testing.T) {
	p := NewPortfolio(100000)

	trade := buyFill("AAPL", 100, 50, 10)
	require.NoError(t, p.ApplyFill(&trade))

	pos := p.Position("AAPL")
	assert.Equal(t, 100.0, pos.Quantity)
	// (100*50 + 10) / 100
	assert.InDelta(t, 50.1, pos.AverageCost, 1e-12)
	assert.InDelta(t, 100000-5010, p.Cash(), 1e-12)
	assert.Equal(t, trade.ExecutedAt, pos.OpenedAt)

	// A second buy reweights the average.
	second := buyFill("AAPL", 100, 60, 10)
	require.NoError(t, p.ApplyFill(&second))

	pos = p.Position("AAPL")
	assert.Equal(t, 200.0, pos.Quantity)
	// (5010 + 6010) / 200
	assert.InDelta(t, 55.1, pos.AverageCost, 1e-12)
}

func TestSellRealizesPnLAgainstAverageCost(t *testing.T) {
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 100, 50, 0)
	require.NoError(t, p.ApplyFill(&entry))

	exit := sellFill("AAPL", 100, 60, 5)
	require.NoError(t, p.ApplyFill(&exit))

	// (60-50)*100 - 5
	assert.InDelta(t, 995, exit.PnL, 1e-12)
	assert.Equal(t, 50.0, exit.EntryPrice)
	assert.Equal(t, entry.ExecutedAt, exit.EntryTime)
	assert.True(t, p.Position("AAPL").Flat())
	assert.InDelta(t, 995, p.RealizedPnL(), 1e-12)
	assert.InDelta(t, 100995, p.Cash(), 1e-12)
	assert.InDelta(t, 5, p.TotalFees(), 1e-12)
}

func TestPartialSellKeepsAverageCost(t *testing.T) {
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 100, 50, 0)
	require.NoError(t, p.ApplyFill(&entry))

	exit := sellFill("AAPL", 40, 55, 0)
	require.NoError(t, p.ApplyFill(&exit))

	pos := p.Position("AAPL")
	assert.Equal(t, 60.0, pos.Quantity)
	assert.Equal(t, 50.0, pos.AverageCost)
	assert.InDelta(t, 200, exit.PnL, 1e-12)
}

func TestBuyBeyondCashRejected(t *testing.T) {
	p := NewPortfolio(1000)

	trade := buyFill("AAPL", 100, 50, 0)
	err := p.ApplyFill(&trade)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInsufficientCash))

	// Nothing moved.
	assert.Equal(t, 1000.0, p.Cash())
	assert.True(t, p.Position("AAPL").Flat())
}

func TestSellBeyondPositionRejected(t *testing.T) {
	p := NewPortfolio(100000)

	entry := buyFill("AAPL", 10, 50, 0)
	require.NoError(t, p.ApplyFill(&entry))

	exit := sellFill("AAPL", 20, 55, 0)
	err := p.ApplyFill(&exit)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoPosition))
	assert.Equal(t, 10.0, p.Position("AAPL").Quantity)
}

func TestShortRoundTrip(t *testing.T) {
	p := NewPortfolio(100000)

	short := sellFill("TSLA", 50, 200, 0)
	require.NoError(t, p.ApplyFill(&short))

	pos := p.Position("TSLA")
	assert.Equal(t, -50.0, pos.Quantity)
	assert.Equal(t, 200.0, pos.AverageCost)
	assert.InDelta(t, 110000, p.Cash(), 1e-12)

	cover := buyFill("TSLA", 50, 180, 0)
	require.NoError(t, p.ApplyFill(&cover))

	// Short profit: (200-180)*50
	assert.InDelta(t, 1000, cover.PnL, 1e-12)
	assert.True(t, p.Position("TSLA").Flat())
	assert.InDelta(t, 101000, p.Cash(), 1e-12)
}

func TestMarkToMarketAppendsAndChecksInvariant(t *testing.T) {
	p := NewPortfolio(10000)

	entry := buyFill("AAPL", 10, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))

	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	point, err := p.MarkToMarket(ts, "AAPL", 110)
	require.NoError(t, err)
	assert.InDelta(t, 9000+1100, point.Equity, 1e-9)
	assert.Len(t, p.EquityCurve(), 1)
	assert.InDelta(t, 100, p.UnrealizedPnL(), 1e-9)

	require.NoError(t, p.CheckInvariant(p.Equity()))
	assert.Error(t, p.CheckInvariant(p.Equity()+0.001))
}

func TestDailyPnLRollsOnNewDay(t *testing.T) {
	p := NewPortfolio(10000)

	day1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := p.MarkToMarket(day1, "AAPL", 100)
	require.NoError(t, err)
	assert.Zero(t, p.DailyPnLPct())

	entry := buyFill("AAPL", 50, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))

	// Same day, price moves up: daily PnL turns positive.
	p.SetPrice("AAPL", 104)
	assert.InDelta(t, 200.0/10000, p.DailyPnLPct(), 1e-9)

	// Next day resets the baseline.
	_, err = p.MarkToMarket(day1.Add(24*time.Hour), "AAPL", 104)
	require.NoError(t, err)
	assert.Zero(t, p.DailyPnLPct())
}

func TestSnapshotIsACopy(t *testing.T) {
	p := NewPortfolio(10000)

	entry := buyFill("AAPL", 10, 100, 0)
	require.NoError(t, p.ApplyFill(&entry))
	p.SetPrice("AAPL", 100)

	snapshot := p.Snapshot([]float64{0.01}, 0.02)
	snapshot.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 999}
	snapshot.Prices["AAPL"] = 1

	assert.Equal(t, 10.0, p.Position("AAPL").Quantity)
	assert.Equal(t, 100.0, p.Prices()["AAPL"])
	assert.Equal(t, 0.02, snapshot.Volatility)
	assert.Equal(t, p.DailyPnLPct(), snapshot.DailyPnLPct)
}
