package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/meridianlab/gobacktest/pkg/errors"
)

type SizingMode string

const (
	// SizingFixedFractional caps position value at MaxPositionPct of equity.
	SizingFixedFractional SizingMode = "fixed_fractional"
	// SizingVolatilityAdjusted scales the fixed-fractional size down when
	// recent volatility exceeds the configured target.
	SizingVolatilityAdjusted SizingMode = "volatility_adjusted"
)

// RiskProfile is the read-only risk configuration for a run. A zero limit
// means "no limit" for that check.
type RiskProfile struct {
	// MaxPositionPct caps a single position's value as a fraction of equity.
	MaxPositionPct float64 `yaml:"max_position_pct" json:"max_position_pct" validate:"gte=0,lte=1" jsonschema:"title=Max Position Pct,description=Maximum single-position value as a fraction of equity (0 = no limit)"`
	// MaxPortfolioVaR caps parametric portfolio VaR as a fraction of equity.
	MaxPortfolioVaR float64 `yaml:"max_portfolio_var" json:"max_portfolio_var" validate:"gte=0,lte=1" jsonschema:"title=Max Portfolio VaR,description=Maximum parametric value-at-risk as a fraction of equity (0 = no limit)"`
	// MaxDailyLossPct stops new risk-increasing trades once the day's loss
	// exceeds this fraction of the day's opening equity.
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct" validate:"gte=0,lte=1" jsonschema:"title=Max Daily Loss Pct,description=Daily loss budget as a fraction of equity (0 = no limit)"`
	// MaxSectorConcentrationPct caps total exposure per sector.
	MaxSectorConcentrationPct float64 `yaml:"max_sector_concentration_pct" json:"max_sector_concentration_pct" validate:"gte=0,lte=1" jsonschema:"title=Max Sector Concentration Pct,description=Maximum sector exposure as a fraction of equity (0 = no limit)"`
	// Sizing selects the position-sizing model. Defaults to fixed_fractional.
	Sizing SizingMode `yaml:"sizing" json:"sizing" validate:"omitempty,oneof=fixed_fractional volatility_adjusted" jsonschema:"title=Sizing Mode"`
	// VolatilityTarget is the per-bar return volatility at which the
	// volatility-adjusted sizer uses the full fixed-fractional size.
	VolatilityTarget float64 `yaml:"volatility_target" json:"volatility_target" validate:"gte=0"`
	// VolatilityWindow is the lookback, in bars, for recent volatility.
	VolatilityWindow int `yaml:"volatility_window" json:"volatility_window" validate:"gte=0"`
	// Sectors maps symbol to sector for the concentration check. Symbols
	// without an entry fall into the "unclassified" sector.
	Sectors map[string]string `yaml:"sectors" json:"sectors"`
}

// Validate checks the profile's numeric limits.
func (r *RiskProfile) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRiskLimit, "invalid risk profile", err)
	}

	if r.Sizing == SizingVolatilityAdjusted && r.VolatilityTarget <= 0 {
		return errors.New(errors.ErrCodeInvalidRiskLimit,
			"volatility_adjusted sizing requires a positive volatility_target")
	}

	return nil
}

// Sector returns the sector for a symbol, defaulting to "unclassified".
func (r *RiskProfile) Sector(symbol string) string {
	if sector, ok := r.Sectors[symbol]; ok {
		return sector
	}

	return "unclassified"
}

type RejectionKind string

const (
	RejectionOversized       RejectionKind = "OVERSIZED"
	RejectionConcentration   RejectionKind = "CONCENTRATION"
	RejectionVaRBreach       RejectionKind = "VAR_BREACH"
	RejectionDailyLossBreach RejectionKind = "DAILY_LOSS_BREACH"
)

// RiskRejection records a signal that failed a risk check. It is a ledger
// entry, not an error: replay continues on the next bar.
type RiskRejection struct {
	Time   time.Time     `yaml:"time" json:"time"`
	Symbol string        `yaml:"symbol" json:"symbol"`
	Action SignalAction  `yaml:"action" json:"action"`
	Kind   RejectionKind `yaml:"kind" json:"kind"`
	Detail string        `yaml:"detail" json:"detail"`
}

// PortfolioSnapshot is the read-only view of portfolio state handed to the
// risk manager for one evaluation. It decouples the risk package from the
// engine's mutable portfolio.
type PortfolioSnapshot struct {
	Cash   float64
	Equity float64
	// Positions keyed by symbol.
	Positions map[string]Position
	// Prices holds the current mark price per symbol.
	Prices map[string]float64
	// Returns holds the most recent per-bar portfolio returns, oldest first.
	Returns []float64
	// Volatility is the recent per-bar return volatility of the signal's
	// symbol, used by volatility-adjusted sizing.
	Volatility float64
	// DailyPnLPct is today's realized+unrealized PnL as a fraction of the
	// day's opening equity. Negative values are losses.
	DailyPnLPct float64
}
