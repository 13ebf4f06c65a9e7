package engine

import (
	"math"
	"time"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/shopspring/decimal"
)

// equityTolerance bounds the acceptable drift between the recorded equity
// and a recomputation of cash plus position values.
const equityTolerance = 1e-6

// cashTolerance absorbs float rounding on a buy that spends the whole cash
// balance; the decimal-exact cost may overshoot the float-derived quantity
// by well under this.
var cashTolerance = decimal.NewFromFloat(1e-9)

// Portfolio is the in-memory account state of one run: cash, open positions
// and the equity curve. It is owned by a single engine goroutine and mutated
// only through fills; all cash settlement runs on decimals so repeated
// round-trips cannot accumulate float drift.
type Portfolio struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]types.Position
	prices      map[string]float64

	equityCurve []types.EquityPoint
	realizedPnL decimal.Decimal
	totalFees   decimal.Decimal

	currentDay    time.Time
	dayOpenEquity float64
}

// NewPortfolio creates a portfolio holding only cash.
func NewPortfolio(initialCash float64) *Portfolio {
	cash := decimal.NewFromFloat(initialCash)

	return &Portfolio{
		initialCash: cash,
		cash:        cash,
		positions:   make(map[string]types.Position),
		prices:      make(map[string]float64),
	}
}

// Cash returns the settled cash balance.
func (p *Portfolio) Cash() float64 {
	v, _ := p.cash.Float64()

	return v
}

// InitialCash returns the starting cash balance.
func (p *Portfolio) InitialCash() float64 {
	v, _ := p.initialCash.Float64()

	return v
}

// Position returns the current position for a symbol, zero-valued when flat.
func (p *Portfolio) Position(symbol string) types.Position {
	return p.positions[symbol]
}

// Positions returns a copy of all open positions keyed by symbol.
func (p *Portfolio) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = pos
	}

	return out
}

// Prices returns a copy of the latest mark prices.
func (p *Portfolio) Prices() map[string]float64 {
	out := make(map[string]float64, len(p.prices))
	for symbol, price := range p.prices {
		out[symbol] = price
	}

	return out
}

// Equity returns cash plus the value of all open positions at the latest
// marks.
func (p *Portfolio) Equity() float64 {
	total := p.cash

	for symbol, pos := range p.positions {
		qty := decimal.NewFromFloat(pos.Quantity)
		price := decimal.NewFromFloat(p.prices[symbol])
		total = total.Add(qty.Mul(price))
	}

	v, _ := total.Float64()

	return v
}

// RealizedPnL returns the cumulative realized profit net of exit fees.
func (p *Portfolio) RealizedPnL() float64 {
	v, _ := p.realizedPnL.Float64()

	return v
}

// UnrealizedPnL returns the open profit across all positions at the latest
// marks.
func (p *Portfolio) UnrealizedPnL() float64 {
	total := 0.0
	for symbol, pos := range p.positions {
		total += pos.UnrealizedPnL(p.prices[symbol])
	}

	return total
}

// TotalFees returns the cumulative fees paid.
func (p *Portfolio) TotalFees() float64 {
	v, _ := p.totalFees.Float64()

	return v
}

// EquityCurve returns the recorded equity samples, one per processed bar.
func (p *Portfolio) EquityCurve() []types.EquityPoint {
	return p.equityCurve
}

// DailyPnLPct returns today's profit as a fraction of the day's opening
// equity. Negative values are losses.
func (p *Portfolio) DailyPnLPct() float64 {
	if p.dayOpenEquity == 0 {
		return 0
	}

	return (p.Equity() - p.dayOpenEquity) / p.dayOpenEquity
}

// Snapshot builds the read-only view handed to the risk manager.
func (p *Portfolio) Snapshot(returns []float64, volatility float64) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		Cash:        p.Cash(),
		Equity:      p.Equity(),
		Positions:   p.Positions(),
		Prices:      p.Prices(),
		Returns:     returns,
		Volatility:  volatility,
		DailyPnLPct: p.DailyPnLPct(),
	}
}

// ApplyFill settles one fill atomically: cash, position and PnL all move
// together or not at all. Buy fees fold into the position's average cost;
// sell fees reduce realized PnL. The fill must not flip a position through
// zero.
func (p *Portfolio) ApplyFill(trade *types.Trade) error {
	if trade.Quantity <= 0 || trade.Price <= 0 {
		return errors.Newf(errors.ErrCodeInvalidOrder,
			"fill for %s needs positive quantity and price", trade.Symbol)
	}

	qty := decimal.NewFromFloat(trade.Quantity)
	price := decimal.NewFromFloat(trade.Price)
	fee := decimal.NewFromFloat(trade.Fee)
	notional := qty.Mul(price)

	pos := p.positions[trade.Symbol]

	switch {
	case trade.Side == types.OrderSideBuy && pos.Quantity >= 0:
		return p.openLong(trade, pos, notional, fee)
	case trade.Side == types.OrderSideSell && pos.Quantity > 0:
		return p.closeLong(trade, pos, qty, price, notional, fee)
	case trade.Side == types.OrderSideSell && pos.Quantity <= 0:
		return p.openShort(trade, pos, notional, fee)
	default: // buy against a short
		return p.closeShort(trade, pos, qty, price, notional, fee)
	}
}

func (p *Portfolio) openLong(trade *types.Trade, pos types.Position, notional, fee decimal.Decimal) error {
	cost := notional.Add(fee)
	if cost.GreaterThan(p.cash.Add(cashTolerance)) {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"buy of %s needs %s, cash is %s", trade.Symbol, cost, p.cash)
	}

	oldQty := decimal.NewFromFloat(pos.Quantity)
	oldCost := oldQty.Mul(decimal.NewFromFloat(pos.AverageCost))
	newQty := oldQty.Add(decimal.NewFromFloat(trade.Quantity))

	avg, _ := oldCost.Add(cost).Div(newQty).Float64()
	quantity, _ := newQty.Float64()

	if pos.Quantity == 0 {
		pos.OpenedAt = trade.ExecutedAt
	}

	pos.Symbol = trade.Symbol
	pos.Quantity = quantity
	pos.AverageCost = avg

	p.positions[trade.Symbol] = pos
	p.cash = p.cash.Sub(cost)
	p.totalFees = p.totalFees.Add(fee)

	return nil
}

func (p *Portfolio) closeLong(trade *types.Trade, pos types.Position, qty, price, notional, fee decimal.Decimal) error {
	if trade.Quantity > pos.Quantity {
		return errors.Newf(errors.ErrCodeNoPosition,
			"sell of %.4f %s exceeds held %.4f", trade.Quantity, trade.Symbol, pos.Quantity)
	}

	avg := decimal.NewFromFloat(pos.AverageCost)
	realized := price.Sub(avg).Mul(qty).Sub(fee)

	trade.EntryPrice = pos.AverageCost
	trade.EntryTime = pos.OpenedAt
	trade.PnL, _ = realized.Float64()

	remaining, _ := decimal.NewFromFloat(pos.Quantity).Sub(qty).Float64()
	if remaining == 0 {
		delete(p.positions, trade.Symbol)
	} else {
		pos.Quantity = remaining
		pos.RealizedPnL += trade.PnL
		p.positions[trade.Symbol] = pos
	}

	p.cash = p.cash.Add(notional.Sub(fee))
	p.realizedPnL = p.realizedPnL.Add(realized)
	p.totalFees = p.totalFees.Add(fee)

	return nil
}

// openShort books a short entry: proceeds land in cash and the position
// quantity goes negative at the fee-adjusted average entry price.
func (p *Portfolio) openShort(trade *types.Trade, pos types.Position, notional, fee decimal.Decimal) error {
	oldQty := decimal.NewFromFloat(math.Abs(pos.Quantity))
	oldCost := oldQty.Mul(decimal.NewFromFloat(pos.AverageCost))
	newQty := oldQty.Add(decimal.NewFromFloat(trade.Quantity))

	// Fees reduce the effective entry price on a short.
	avg, _ := oldCost.Add(notional.Sub(fee)).Div(newQty).Float64()
	quantity, _ := newQty.Float64()

	if pos.Quantity == 0 {
		pos.OpenedAt = trade.ExecutedAt
	}

	pos.Symbol = trade.Symbol
	pos.Quantity = -quantity
	pos.AverageCost = avg

	p.positions[trade.Symbol] = pos
	p.cash = p.cash.Add(notional.Sub(fee))
	p.totalFees = p.totalFees.Add(fee)

	return nil
}

func (p *Portfolio) closeShort(trade *types.Trade, pos types.Position, qty, price, notional, fee decimal.Decimal) error {
	held := math.Abs(pos.Quantity)
	if trade.Quantity > held {
		return errors.Newf(errors.ErrCodeNoPosition,
			"cover of %.4f %s exceeds short %.4f", trade.Quantity, trade.Symbol, held)
	}

	cost := notional.Add(fee)
	if cost.GreaterThan(p.cash.Add(cashTolerance)) {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"cover of %s needs %s, cash is %s", trade.Symbol, cost, p.cash)
	}

	avg := decimal.NewFromFloat(pos.AverageCost)
	realized := avg.Sub(price).Mul(qty).Sub(fee)

	trade.EntryPrice = pos.AverageCost
	trade.EntryTime = pos.OpenedAt
	trade.PnL, _ = realized.Float64()

	remaining := held - trade.Quantity
	if remaining == 0 {
		delete(p.positions, trade.Symbol)
	} else {
		pos.Quantity = -remaining
		pos.RealizedPnL += trade.PnL
		p.positions[trade.Symbol] = pos
	}

	p.cash = p.cash.Sub(cost)
	p.realizedPnL = p.realizedPnL.Add(realized)
	p.totalFees = p.totalFees.Add(fee)

	return nil
}

// SetPrice updates the mark price for a symbol without sampling equity.
// The engine calls it at bar start so risk sizing sees the current close.
func (p *Portfolio) SetPrice(symbol string, price float64) {
	p.prices[symbol] = price
}

// MarkToMarket updates the mark price for a symbol, appends an equity
// sample, rolls the daily PnL window on calendar-day changes and verifies
// the equity identity.
func (p *Portfolio) MarkToMarket(ts time.Time, symbol string, price float64) (types.EquityPoint, error) {
	p.prices[symbol] = price

	day := ts.Truncate(24 * time.Hour)
	if p.currentDay.IsZero() || day.After(p.currentDay) {
		p.currentDay = day
		p.dayOpenEquity = p.Equity()
	}

	point := types.EquityPoint{Time: ts, Equity: p.Equity()}
	p.equityCurve = append(p.equityCurve, point)

	if err := p.CheckInvariant(point.Equity); err != nil {
		return types.EquityPoint{}, err
	}

	return point, nil
}

// CheckInvariant verifies that cash plus the float-path sum of position
// values matches the decimal-path equity within tolerance.
func (p *Portfolio) CheckInvariant(equity float64) error {
	recomputed := p.Cash()
	for symbol, pos := range p.positions {
		recomputed += pos.MarketValue(p.prices[symbol])
	}

	if diff := math.Abs(recomputed - equity); diff > equityTolerance {
		return errors.Newf(errors.ErrCodeInvariantViolation,
			"cash %.8f plus positions diverges from equity %.8f by %.3g",
			p.Cash(), equity, diff)
	}

	return nil
}
