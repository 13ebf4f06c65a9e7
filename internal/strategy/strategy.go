// Package strategy implements trading strategies as tagged variants: a
// strategy kind plus a flat parameter payload, dispatched to pure analysis
// functions. Strategies hold no hidden mutable state; everything an analysis
// function sees arrives through its Context, which keeps replays
// reproducible bar for bar.
package strategy

import (
	"fmt"

	"github.com/meridianlab/gobacktest/internal/indicator"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/moznion/go-optional"
)

type Kind string

const (
	KindSMACrossover       Kind = "sma_crossover"
	KindEMACrossover       Kind = "ema_crossover"
	KindRSIReversion       Kind = "rsi_reversion"
	KindMACDCrossover      Kind = "macd_crossover"
	KindBollingerReversion Kind = "bollinger_reversion"
	KindStochastic         Kind = "stochastic"
	KindIchimokuTrend      Kind = "ichimoku_trend"
	KindMultiTimeframe     Kind = "multi_timeframe"
)

// AllKinds lists every supported strategy kind.
var AllKinds = []Kind{
	KindSMACrossover,
	KindEMACrossover,
	KindRSIReversion,
	KindMACDCrossover,
	KindBollingerReversion,
	KindStochastic,
	KindIchimokuTrend,
	KindMultiTimeframe,
}

// Config selects a strategy kind and its named parameters.
type Config struct {
	Kind   Kind               `yaml:"kind" json:"kind" validate:"required"`
	Params types.ParameterSet `yaml:"params" json:"params"`
}

// Int reads an integer parameter with a default.
func (c Config) Int(name string, def int) int {
	if v, ok := c.Params[name]; ok {
		return int(v)
	}

	return def
}

// Float reads a float parameter with a default.
func (c Config) Float(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}

	return def
}

// Context bundles everything one analysis call may observe: the bar history
// up to and including the current bar, the precomputed indicator table, and
// the current position for the symbol.
type Context struct {
	// Symbol is the symbol under analysis.
	Symbol string
	// Bars is the full bar history; only indices <= Index may be read.
	Bars []types.PriceBar
	// Index is the current bar position within Bars.
	Index int
	// Position is a snapshot of the current holding for Symbol.
	Position types.Position

	values map[string][]indicator.Value
}

// Bar returns the current bar.
func (c Context) Bar() types.PriceBar {
	return c.Bars[c.Index]
}

// At returns the named indicator value at index i.
func (c Context) At(name string, i int) (float64, bool) {
	series, ok := c.values[name]
	if !ok || i < 0 || i >= len(series) || series[i].IsNone() {
		return 0, false
	}

	return series[i].Unwrap(), true
}

// Cur returns the named indicator value at the current bar.
func (c Context) Cur(name string) (float64, bool) {
	return c.At(name, c.Index)
}

// Prev returns the named indicator value at the previous bar.
func (c Context) Prev(name string) (float64, bool) {
	return c.At(name, c.Index-1)
}

// Strategy is a configured strategy bound to one price series. Indicator
// series are precomputed at construction; because every indicator is
// causal, value i never observes a bar after i and precomputation cannot
// leak future data into a bar's analysis.
type Strategy struct {
	cfg    Config
	name   string
	warmUp int
	values map[string][]indicator.Value
}

// New builds a strategy for the given series, precomputing its indicator
// table and warm-up length. Unknown kinds and invalid parameters are
// configuration errors.
func New(cfg Config, series types.Series) (*Strategy, error) {
	build, ok := builders[cfg.Kind]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownStrategy, "unknown strategy kind %q", cfg.Kind)
	}

	values, warmUp, err := build(cfg, series)
	if err != nil {
		return nil, err
	}

	if series.Len() <= warmUp {
		return nil, errors.Wrap(errors.ErrCodeInsufficientData,
			"price history shorter than strategy warm-up",
			errors.NewInsufficientDataErrorf(warmUp+1, series.Len(), series.Symbol,
				"%s needs %d bars for warm-up, series has %d", cfg.Kind, warmUp+1, series.Len()))
	}

	return &Strategy{
		cfg:    cfg,
		name:   fmt.Sprintf("%s[%s]", cfg.Kind, cfg.Params.Key()),
		warmUp: warmUp,
		values: values,
	}, nil
}

// Name returns a human-readable strategy name including its parameters.
func (s *Strategy) Name() string {
	return s.name
}

// Kind returns the strategy kind.
func (s *Strategy) Kind() Kind {
	return s.cfg.Kind
}

// WarmUp returns the number of leading bars that produce implicit HOLDs.
func (s *Strategy) WarmUp() int {
	return s.warmUp
}

// Analyze evaluates the strategy at bar index i and returns a Signal.
// Dispatch is a plain switch over the kind tag; each arm is a pure function
// of the context.
func (s *Strategy) Analyze(series types.Series, i int, position types.Position) (types.Signal, error) {
	if i < 0 || i >= series.Len() {
		return types.Signal{}, errors.Newf(errors.ErrCodeStrategyRuntime,
			"bar index %d out of range for %d bars", i, series.Len())
	}

	ctx := Context{
		Symbol:   series.Symbol,
		Bars:     series.Bars,
		Index:    i,
		Position: position,
		values:   s.values,
	}

	switch s.cfg.Kind {
	case KindSMACrossover, KindEMACrossover:
		return analyzeCrossover(s.cfg, ctx)
	case KindRSIReversion:
		return analyzeRSIReversion(s.cfg, ctx)
	case KindMACDCrossover:
		return analyzeMACDCrossover(s.cfg, ctx)
	case KindBollingerReversion:
		return analyzeBollingerReversion(s.cfg, ctx)
	case KindStochastic:
		return analyzeStochastic(s.cfg, ctx)
	case KindIchimokuTrend:
		return analyzeIchimokuTrend(s.cfg, ctx)
	case KindMultiTimeframe:
		return analyzeMultiTimeframe(s.cfg, ctx)
	default:
		return types.Signal{}, errors.Newf(errors.ErrCodeUnknownStrategy, "unknown strategy kind %q", s.cfg.Kind)
	}
}

// builder precomputes the indicator table and warm-up for one kind.
type builder func(cfg Config, series types.Series) (map[string][]indicator.Value, int, error)

var builders = map[Kind]builder{
	KindSMACrossover:       buildCrossover,
	KindEMACrossover:       buildCrossover,
	KindRSIReversion:       buildRSIReversion,
	KindMACDCrossover:      buildMACDCrossover,
	KindBollingerReversion: buildBollingerReversion,
	KindStochastic:         buildStochastic,
	KindIchimokuTrend:      buildIchimokuTrend,
	KindMultiTimeframe:     buildMultiTimeframe,
}

// attachProtectiveStops fills optional stop-loss/take-profit prices from the
// generic stop_loss_pct / take_profit_pct parameters on entry signals.
func attachProtectiveStops(cfg Config, sig types.Signal, close float64) types.Signal {
	if sig.Action != types.SignalActionBuy {
		return sig
	}

	if pct := cfg.Float("stop_loss_pct", 0); pct > 0 {
		sig.StopLoss = optional.Some(close * (1 - pct))
	}

	if pct := cfg.Float("take_profit_pct", 0); pct > 0 {
		sig.TakeProfit = optional.Some(close * (1 + pct))
	}

	return sig
}

func errorShortNotBelowLong(kind Kind, short, long int) error {
	return errors.Newf(errors.ErrCodeInvalidWindow,
		"%s short_period %d must be below long_period %d", kind, short, long)
}

// clampConfidence keeps a computed confidence inside [0, 1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
