package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/meridianlab/gobacktest/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusApproved        OrderStatus = "APPROVED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusFailed          OrderStatus = "FAILED"
)

const (
	OrderReasonStrategy   string = "strategy"
	OrderReasonStopLoss   string = "stop_loss"
	OrderReasonTakeProfit string = "take_profit"
	OrderReasonRisk       string = "risk_rejection"
	OrderReasonLiquidity  string = "no_liquidity"
	OrderReasonNoPosition string = "no_position"
)

// Reason records why an order exists or why it changed state.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" validate:"required"`
	Message string `yaml:"message" json:"message"`
}

// orderTransitions is the explicit state machine for simulated orders.
// REJECTED is only reachable from CREATED (risk failure); FAILED only from
// APPROVED or PARTIALLY_FILLED (simulated fill failure).
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:         {OrderStatusApproved, OrderStatusRejected},
	OrderStatusApproved:        {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusFailed},
	OrderStatusPartiallyFilled: {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusFailed},
	OrderStatusFilled:          {},
	OrderStatusRejected:        {},
	OrderStatusFailed:          {},
}

// CanTransition reports whether the status may move to the target status.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}

	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Order is a simulated order owned exclusively by the run that created it.
type Order struct {
	ID     string    `yaml:"id" json:"id" validate:"required,uuid"`
	Symbol string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side   OrderSide `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type   OrderType `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT TRAILING_STOP"`
	// Quantity is the requested quantity; FilledQuantity tracks progress.
	Quantity float64 `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// RequestedPrice is the reference price at creation time. For LIMIT and
	// STOP_LIMIT orders LimitPrice is the execution bound; for STOP and
	// STOP_LIMIT orders StopPrice is the trigger.
	RequestedPrice float64 `yaml:"requested_price" json:"requested_price" validate:"gte=0"`
	LimitPrice     float64 `yaml:"limit_price" json:"limit_price" validate:"gte=0"`
	StopPrice      float64 `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
	// TrailPct is the trailing distance for TRAILING_STOP orders, as a
	// fraction of price (0.05 = trail 5% behind the best close).
	TrailPct       float64     `yaml:"trail_pct" json:"trail_pct" validate:"gte=0,lte=1"`
	Status         OrderStatus `yaml:"status" json:"status"`
	Reason         Reason      `yaml:"reason" json:"reason" validate:"required"`
	StrategyName   string      `yaml:"strategy_name" json:"strategy_name" validate:"required"`
	CreatedAt      time.Time   `yaml:"created_at" json:"created_at" validate:"required"`
	FilledQuantity float64     `yaml:"filled_quantity" json:"filled_quantity" validate:"gte=0"`
	AvgFillPrice   float64     `yaml:"avg_fill_price" json:"avg_fill_price" validate:"gte=0"`
	Fees           float64     `yaml:"fees" json:"fees" validate:"gte=0"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}

// Transition moves the order to the target status, enforcing the state
// machine. Illegal transitions are execution errors, never applied.
func (o *Order) Transition(to OrderStatus) error {
	if !o.Status.CanTransition(to) {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s cannot move from %s to %s", o.ID, o.Status, to)
	}

	o.Status = to

	return nil
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}
