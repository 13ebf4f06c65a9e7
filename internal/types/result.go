package types

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"
)

// EquityPoint is one sample of the portfolio equity curve.
type EquityPoint struct {
	Time   time.Time `yaml:"time" json:"time"`
	Equity float64   `yaml:"equity" json:"equity"`
}

// Metrics are the summary statistics derived from a completed run. All
// fields are read-only outputs; they never feed back into replay.
type Metrics struct {
	// Sharpe is mean(period returns) / stdev * sqrt(periods per year).
	Sharpe float64 `yaml:"sharpe" json:"sharpe"`
	// Sortino uses downside deviation instead of full stdev.
	Sortino float64 `yaml:"sortino" json:"sortino"`
	// MaxDrawdown is the largest peak-to-trough equity decline, as a
	// positive fraction of the peak.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// WinRate is profitable closed trades / total closed trades.
	WinRate float64 `yaml:"win_rate" json:"win_rate"`
	// ProfitFactor is gross profit / gross loss. None when gross loss is
	// zero: the ratio is undefined, not an error.
	ProfitFactor optional.Option[float64] `yaml:"-" json:"-"`
	// ProfitFactorStr mirrors ProfitFactor for serialization ("inf" when
	// undefined).
	ProfitFactorStr string  `yaml:"profit_factor" json:"profit_factor"`
	TotalPnL        float64 `yaml:"total_pnl" json:"total_pnl"`
	RealizedPnL     float64 `yaml:"realized_pnl" json:"realized_pnl"`
	UnrealizedPnL   float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	MaxTradeProfit  float64 `yaml:"max_trade_profit" json:"max_trade_profit"`
	MaxTradeLoss    float64 `yaml:"max_trade_loss" json:"max_trade_loss"`
	TotalFees       float64 `yaml:"total_fees" json:"total_fees"`
	TradeCount      int     `yaml:"trade_count" json:"trade_count"`
	ClosedTrades    int     `yaml:"closed_trades" json:"closed_trades"`
	WinningTrades   int     `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades    int     `yaml:"losing_trades" json:"losing_trades"`
	// BuyAndHoldPnL is the benchmark PnL of buying at the first bar's close
	// with all initial cash and holding to the last bar.
	BuyAndHoldPnL float64 `yaml:"buy_and_hold_pnl" json:"buy_and_hold_pnl"`
}

// ParameterSet is a flat mapping of named strategy parameters.
type ParameterSet map[string]float64

// Clone returns an independent copy of the parameter set.
func (p ParameterSet) Clone() ParameterSet {
	clone := make(ParameterSet, len(p))
	for k, v := range p {
		clone[k] = v
	}

	return clone
}

// Key returns a canonical string form of the parameter set, used for
// deterministic ordering and log output.
func (p ParameterSet) Key() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, p[name]))
	}

	return strings.Join(parts, ",")
}

// BacktestResult is the immutable outcome of one completed run.
type BacktestResult struct {
	RunID      string       `yaml:"run_id" json:"run_id"`
	Symbol     string       `yaml:"symbol" json:"symbol"`
	Strategy   string       `yaml:"strategy" json:"strategy"`
	Parameters ParameterSet `yaml:"parameters" json:"parameters"`
	// Trades is the append-only fill ledger in execution order.
	Trades []Trade `yaml:"trades" json:"trades"`
	// Rejections lists signals refused by the risk manager.
	Rejections []RiskRejection `yaml:"rejections" json:"rejections"`
	// UnfilledOrders are pending orders still open at run end. They are
	// reported, never silently dropped.
	UnfilledOrders []Order       `yaml:"unfilled_orders" json:"unfilled_orders"`
	EquityCurve    []EquityPoint `yaml:"equity_curve" json:"equity_curve"`
	Metrics        Metrics       `yaml:"metrics" json:"metrics"`
	InitialCash    float64       `yaml:"initial_cash" json:"initial_cash"`
	FinalCash      float64       `yaml:"final_cash" json:"final_cash"`
	FinalEquity    float64       `yaml:"final_equity" json:"final_equity"`
	BarsProcessed  int           `yaml:"bars_processed" json:"bars_processed"`
}

// WriteResult writes a result summary to a YAML file.
func WriteResult(path string, result BacktestResult) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result to file: %w", err)
	}

	return nil
}
