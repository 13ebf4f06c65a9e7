package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents current holdings of one symbol under average-cost
// accounting. Quantity stays >= 0 unless short selling is enabled in the
// run configuration. Positions are owned by the Portfolio and mutated only
// by the execution engine.
type Position struct {
	Symbol      string    `yaml:"symbol" json:"symbol"`
	Quantity    float64   `yaml:"quantity" json:"quantity"`
	AverageCost float64   `yaml:"average_cost" json:"average_cost"`
	RealizedPnL float64   `yaml:"realized_pnl" json:"realized_pnl"`
	OpenedAt    time.Time `yaml:"opened_at" json:"opened_at"`
}

// MarketValue returns the position value at the given price.
func (p Position) MarketValue(price float64) float64 {
	value, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price)).Float64()

	return value
}

// UnrealizedPnL returns the open profit against average cost at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Quantity == 0 {
		return 0
	}

	priceDec := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.AverageCost))
	pnl, _ := priceDec.Mul(decimal.NewFromFloat(p.Quantity)).Float64()

	return pnl
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.Quantity == 0
}

// Trade is one executed fill, appended to the run's append-only ledger and
// never mutated afterwards. Fills that reduce a position, sells closing a
// long or buys covering a short, additionally carry the closed-trade fields:
// entry price/time under average-cost accounting and the realized PnL of the
// closed quantity.
type Trade struct {
	OrderID    string    `yaml:"order_id" json:"order_id" csv:"order_id"`
	Symbol     string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side       OrderSide `yaml:"side" json:"side" csv:"side"`
	Quantity   float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	Price      float64   `yaml:"price" json:"price" csv:"price"`
	Fee        float64   `yaml:"fee" json:"fee" csv:"fee"`
	ExecutedAt time.Time `yaml:"executed_at" json:"executed_at" csv:"executed_at"`
	Reason     Reason    `yaml:"reason" json:"reason" csv:"reason"`
	// EntryPrice is the average cost of the position at exit time. Zero on
	// fills that open or add to a position.
	EntryPrice float64 `yaml:"entry_price" json:"entry_price" csv:"entry_price"`
	// EntryTime is when the closed position was opened. Zero value on
	// opening fills.
	EntryTime time.Time `yaml:"entry_time" json:"entry_time" csv:"entry_time"`
	// PnL is the realized profit of this fill net of fees. Zero on opening
	// fills: a long entry's fee is folded into the position's average cost
	// instead.
	PnL float64 `yaml:"pnl" json:"pnl" csv:"pnl"`
}

// Closing reports whether this fill realized PnL against an open position.
// Only closing fills carry a nonzero entry price, regardless of side: a
// short is opened by a sell and closed by a buy.
func (t Trade) Closing() bool {
	return t.EntryPrice != 0
}
