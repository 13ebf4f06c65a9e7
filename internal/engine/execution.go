package engine

import (
	"math"

	"github.com/meridianlab/gobacktest/internal/engine/commission"
	"github.com/meridianlab/gobacktest/internal/engine/slippage"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"go.uber.org/zap"
)

// Simulator fills approved orders against bar data. Market orders fill at
// the current bar's close; LIMIT, STOP, STOP_LIMIT and TRAILING_STOP orders
// wait in the pending book and are evaluated against each subsequent bar's
// high/low range until they trigger or the run ends. Fill prices pass
// through the slippage model and fees come from the commission schedule.
type Simulator struct {
	commission       commission.Schedule
	slippage         slippage.Model
	allowShort       bool
	maxParticipation float64
	log              *logger.Logger

	pending []*types.Order
	// trailMarks tracks the best close seen since each trailing order was
	// created, keyed by order ID.
	trailMarks map[string]float64
}

// NewSimulator builds a simulator. A non-positive maxParticipation disables
// the volume cap.
func NewSimulator(schedule commission.Schedule, model slippage.Model, allowShort bool, maxParticipation float64, log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Simulator{
		commission:       schedule,
		slippage:         model,
		allowShort:       allowShort,
		maxParticipation: maxParticipation,
		log:              log,
		trailMarks:       make(map[string]float64),
	}
}

// Pending returns the orders still open, reported at run end rather than
// silently dropped.
func (s *Simulator) Pending() []types.Order {
	out := make([]types.Order, 0, len(s.pending))
	for _, order := range s.pending {
		out = append(out, *order)
	}

	return out
}

// Submit approves and processes a newly created order against the current
// bar. Market orders fill immediately at the bar close; everything else
// joins the pending book. The returned trades have already been applied to
// the portfolio.
func (s *Simulator) Submit(portfolio *Portfolio, order *types.Order, bar types.PriceBar) ([]types.Trade, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	if err := order.Transition(types.OrderStatusApproved); err != nil {
		return nil, err
	}

	if order.Type != types.OrderTypeMarket {
		if order.Type == types.OrderTypeTrailingStop {
			s.trailMarks[order.ID] = bar.Close
		}

		s.pending = append(s.pending, order)

		return nil, nil
	}

	trade, err := s.fill(portfolio, order, bar.Close, bar)
	if err != nil {
		return nil, err
	}

	if trade == nil {
		return nil, nil
	}

	if order.Status == types.OrderStatusPartiallyFilled {
		// The remainder keeps filling at subsequent closes.
		s.pending = append(s.pending, order)
	}

	return []types.Trade{*trade}, nil
}

// EvaluatePending walks the pending book against one bar and fills whatever
// triggers. Orders that complete leave the book; partial fills stay.
func (s *Simulator) EvaluatePending(portfolio *Portfolio, bar types.PriceBar) ([]types.Trade, error) {
	var trades []types.Trade

	remaining := s.pending[:0]

	for _, order := range s.pending {
		price, triggered := s.triggerPrice(order, bar)
		if !triggered {
			remaining = append(remaining, order)

			continue
		}

		trade, err := s.fill(portfolio, order, price, bar)
		if err != nil {
			return nil, err
		}

		if trade != nil {
			trades = append(trades, *trade)
		}

		if !order.Status.Terminal() {
			remaining = append(remaining, order)
		} else {
			delete(s.trailMarks, order.ID)
		}
	}

	s.pending = remaining

	return trades, nil
}

// triggerPrice decides whether a pending order executes against this bar
// and at which reference price. Gaps through the trigger fill at the bar
// open.
func (s *Simulator) triggerPrice(order *types.Order, bar types.PriceBar) (float64, bool) {
	switch order.Type {
	case types.OrderTypeMarket:
		// A partially filled market order keeps taking liquidity at the close.
		return bar.Close, true

	case types.OrderTypeLimit:
		if order.Side == types.OrderSideBuy && bar.Low <= order.LimitPrice {
			return math.Min(bar.Open, order.LimitPrice), true
		}

		if order.Side == types.OrderSideSell && bar.High >= order.LimitPrice {
			return math.Max(bar.Open, order.LimitPrice), true
		}

	case types.OrderTypeStop:
		if order.Side == types.OrderSideSell && bar.Low <= order.StopPrice {
			return math.Min(bar.Open, order.StopPrice), true
		}

		if order.Side == types.OrderSideBuy && bar.High >= order.StopPrice {
			return math.Max(bar.Open, order.StopPrice), true
		}

	case types.OrderTypeStopLimit:
		if order.Side == types.OrderSideSell && bar.Low <= order.StopPrice && bar.High >= order.LimitPrice {
			return math.Max(order.LimitPrice, math.Min(bar.Open, order.StopPrice)), true
		}

		if order.Side == types.OrderSideBuy && bar.High >= order.StopPrice && bar.Low <= order.LimitPrice {
			return math.Min(order.LimitPrice, math.Max(bar.Open, order.StopPrice)), true
		}

	case types.OrderTypeTrailingStop:
		mark := s.trailMarks[order.ID]

		if order.Side == types.OrderSideSell {
			if bar.Close > mark {
				s.trailMarks[order.ID] = bar.Close
			}

			stop := mark * (1 - order.TrailPct)
			if bar.Low <= stop {
				return math.Min(bar.Open, stop), true
			}
		} else {
			if mark == 0 || bar.Close < mark {
				s.trailMarks[order.ID] = bar.Close
			}

			stop := mark * (1 + order.TrailPct)
			if mark > 0 && bar.High >= stop {
				return math.Max(bar.Open, stop), true
			}
		}
	}

	return 0, false
}

// fill executes as much of the order as the bar's liquidity allows at the
// slippage-adjusted price and settles the result on the portfolio as one
// atomic step.
func (s *Simulator) fill(portfolio *Portfolio, order *types.Order, referencePrice float64, bar types.PriceBar) (*types.Trade, error) {
	if bar.Volume <= 0 {
		return nil, s.fail(order, types.OrderReasonLiquidity, "bar has no volume")
	}

	quantity := order.Remaining()
	if s.maxParticipation > 0 {
		if limit := s.maxParticipation * bar.Volume; quantity > limit {
			quantity = limit
		}
	}

	quantity, err := s.clampToPosition(portfolio, order, quantity)
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		return nil, nil
	}

	price := s.slippage.Adjust(order.Side, quantity, referencePrice, bar.Volume)

	if order.Side == types.OrderSideBuy {
		quantity = s.clampToCash(portfolio, quantity, price)
		if quantity <= 0 {
			return nil, s.fail(order, types.OrderReasonLiquidity, "no cash for any quantity")
		}
	}

	fee := s.commission.Calculate(quantity, price)

	trade := types.Trade{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity,
		Price:      price,
		Fee:        fee,
		ExecutedAt: bar.Time,
		Reason:     order.Reason,
	}

	if err := portfolio.ApplyFill(&trade); err != nil {
		if failErr := s.fail(order, types.OrderReasonLiquidity, err.Error()); failErr != nil {
			return nil, failErr
		}

		return nil, nil
	}

	order.AvgFillPrice = (order.AvgFillPrice*order.FilledQuantity + price*quantity) /
		(order.FilledQuantity + quantity)
	order.FilledQuantity += quantity
	order.Fees += fee

	target := types.OrderStatusPartiallyFilled
	if order.Remaining() <= 1e-9 {
		order.FilledQuantity = order.Quantity
		target = types.OrderStatusFilled
	}

	if err := order.Transition(target); err != nil {
		return nil, err
	}

	s.log.Debug("order filled",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.String("status", string(order.Status)))

	return &trade, nil
}

// clampToPosition bounds sells by the held quantity when shorting is off.
// A flat sell with shorting off fails as a no-position order.
func (s *Simulator) clampToPosition(portfolio *Portfolio, order *types.Order, quantity float64) (float64, error) {
	if order.Side != types.OrderSideSell || s.allowShort {
		return quantity, nil
	}

	held := portfolio.Position(order.Symbol).Quantity
	if held <= 0 {
		return 0, s.fail(order, types.OrderReasonNoPosition, "no position to sell")
	}

	if quantity > held {
		return held, nil
	}

	return quantity, nil
}

// clampToCash shrinks a buy so cost plus fee fits in cash. Each pass
// re-prices the fee at the shrunken quantity; flat and linear schedules
// settle in one, fee schedules with tier jumps can need a few more. A
// quantity still unaffordable after the last pass clamps to zero rather
// than surfacing as a failed settlement.
func (s *Simulator) clampToCash(portfolio *Portfolio, quantity, price float64) float64 {
	cash := portfolio.Cash()

	for range 8 {
		fee := s.commission.Calculate(quantity, price)
		cost := quantity*price + fee

		if cost <= cash {
			return quantity
		}

		// Shave a hair so decimal-exact settlement cannot overshoot cash
		// after float rounding.
		quantity = (cash - fee) / price * (1 - 1e-9)
		if quantity <= 0 {
			return 0
		}
	}

	return 0
}

// fail moves the order to FAILED with the given reason. Orders still in
// CREATED cannot fail directly; callers always approve first.
func (s *Simulator) fail(order *types.Order, reason, message string) error {
	order.Reason = types.Reason{Reason: reason, Message: message}

	if err := order.Transition(types.OrderStatusFailed); err != nil {
		return errors.Wrapf(errors.ErrCodeOrderFailed, err, "order %s", order.ID)
	}

	s.log.Debug("order failed",
		zap.String("order_id", order.ID),
		zap.String("reason", reason),
		zap.String("message", message))

	return nil
}
