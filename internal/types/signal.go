package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type SignalAction string

const (
	// SignalActionBuy tells the engine to open or add to a position.
	SignalActionBuy SignalAction = "BUY"
	// SignalActionSell tells the engine to reduce or close a position.
	SignalActionSell SignalAction = "SELL"
	// SignalActionHold tells the engine to take no action this bar.
	SignalActionHold SignalAction = "HOLD"
)

// Signal is the output of one strategy evaluation for one bar. Signals are
// produced fresh per bar and are not persisted beyond the ledger entry they
// generate.
type Signal struct {
	// Time is the time of the bar that produced the signal.
	Time time.Time
	// Symbol is the symbol the signal applies to.
	Symbol string
	// Action is what the strategy wants to do.
	Action SignalAction
	// Confidence is the strategy's conviction in [0, 1].
	Confidence float64
	// Reason is a human-readable rationale for the signal.
	Reason string
	// PriceTarget is an optional target price for the move.
	PriceTarget optional.Option[float64]
	// StopLoss is an optional protective stop price. When present on an
	// approved BUY, the engine registers a STOP sell order after the fill.
	StopLoss optional.Option[float64]
	// TakeProfit is an optional profit-taking price. When present on an
	// approved BUY, the engine registers a LIMIT sell order after the fill.
	TakeProfit optional.Option[float64]
}

// Hold builds a HOLD signal with the given rationale.
func Hold(symbol string, t time.Time, reason string) Signal {
	return Signal{
		Time:   t,
		Symbol: symbol,
		Action: SignalActionHold,
		Reason: reason,
	}
}
