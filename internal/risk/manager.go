package risk

import (
	"fmt"
	"math"

	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"go.uber.org/zap"
)

// Manager validates every non-HOLD signal against the configured risk
// profile before it becomes an order. A rejection is not an error: it is
// recorded and the replay moves to the next bar.
type Manager struct {
	profile types.RiskProfile
	log     *logger.Logger
}

// Decision is the outcome of one risk evaluation: either an approved sized
// quantity or an explicit rejection.
type Decision struct {
	Approved  bool
	Quantity  float64
	Rejection types.RiskRejection
}

// NewManager validates the profile and returns a manager.
func NewManager(profile types.RiskProfile, log *logger.Logger) (*Manager, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{profile: profile, log: log}, nil
}

// Evaluate sizes and validates one signal against the current portfolio
// snapshot. Risk-reducing trades (selling down an existing position) bypass
// the sizing, concentration, VaR and daily-loss checks. Risk-increasing
// trades run the full gauntlet in a fixed order so rejections are
// deterministic: daily loss, sizing, concentration, VaR.
func (m *Manager) Evaluate(signal types.Signal, snapshot types.PortfolioSnapshot) Decision {
	if signal.Action == types.SignalActionHold {
		return approve(0)
	}

	price, ok := snapshot.Prices[signal.Symbol]
	if !ok || price <= 0 {
		return approve(0)
	}

	position := snapshot.Positions[signal.Symbol]

	// Selling down an existing long reduces risk and is always allowed,
	// including while the daily loss budget is exhausted.
	if signal.Action == types.SignalActionSell && position.Quantity > 0 {
		return approve(position.Quantity)
	}

	if m.profile.MaxDailyLossPct > 0 && snapshot.DailyPnLPct <= -m.profile.MaxDailyLossPct {
		return m.reject(signal, types.RejectionDailyLossBreach,
			fmt.Sprintf("daily pnl %.4f breaches loss budget %.4f",
				snapshot.DailyPnLPct, m.profile.MaxDailyLossPct))
	}

	value, detail := m.sizeValue(signal, snapshot, position, price)
	if value <= 0 {
		return m.reject(signal, types.RejectionOversized, detail)
	}

	if d, rejected := m.checkConcentration(signal, snapshot, price, value); rejected {
		return d
	}

	if d, rejected := m.checkVaR(signal, snapshot, value); rejected {
		return d
	}

	quantity := value / price

	m.log.Debug("signal approved",
		zap.String("symbol", signal.Symbol),
		zap.String("action", string(signal.Action)),
		zap.Float64("quantity", quantity))

	return approve(quantity)
}

// sizeValue computes the trade value for a risk-increasing signal, applying
// the sizing model and the single-position cap. The second return value
// explains a zero result.
func (m *Manager) sizeValue(signal types.Signal, snapshot types.PortfolioSnapshot, position types.Position, price float64) (float64, string) {
	capFraction := m.profile.MaxPositionPct
	if capFraction == 0 {
		capFraction = 1
	}

	target := capFraction * snapshot.Equity

	if m.profile.Sizing == types.SizingVolatilityAdjusted &&
		snapshot.Volatility > m.profile.VolatilityTarget && snapshot.Volatility > 0 {
		target *= m.profile.VolatilityTarget / snapshot.Volatility
	}

	existing := math.Abs(position.Quantity) * price

	headroom := capFraction*snapshot.Equity - existing
	if headroom <= 0 {
		return 0, fmt.Sprintf("position value %.2f already at cap %.2f",
			existing, capFraction*snapshot.Equity)
	}

	if target > headroom {
		target = headroom
	}

	if signal.Action == types.SignalActionBuy && target > snapshot.Cash {
		target = snapshot.Cash
	}

	if target <= 0 {
		return 0, "no cash available for a new position"
	}

	return target, ""
}

func (m *Manager) checkConcentration(signal types.Signal, snapshot types.PortfolioSnapshot, price, value float64) (Decision, bool) {
	limit := m.profile.MaxSectorConcentrationPct
	if limit == 0 || snapshot.Equity <= 0 {
		return Decision{}, false
	}

	sector := m.profile.Sector(signal.Symbol)

	exposure := value
	for symbol, pos := range snapshot.Positions {
		if m.profile.Sector(symbol) != sector {
			continue
		}

		exposure += math.Abs(pos.Quantity) * snapshot.Prices[symbol]
	}

	if exposure > limit*snapshot.Equity {
		return m.reject(signal, types.RejectionConcentration,
			fmt.Sprintf("sector %q exposure %.2f would exceed limit %.2f",
				sector, exposure, limit*snapshot.Equity)), true
	}

	return Decision{}, false
}

// checkVaR projects the portfolio's parametric VaR after the trade and
// rejects if either the 95% or the 99% estimate would exceed the limit.
// Portfolio return history drives the estimate; when the portfolio is
// currently flat there is no history to scale, so the symbol's own recent
// volatility stands in.
func (m *Manager) checkVaR(signal types.Signal, snapshot types.PortfolioSnapshot, value float64) (Decision, bool) {
	limit := m.profile.MaxPortfolioVaR
	if limit == 0 || snapshot.Equity <= 0 {
		return Decision{}, false
	}

	gross := 0.0
	for symbol, pos := range snapshot.Positions {
		gross += math.Abs(pos.Quantity) * snapshot.Prices[symbol]
	}

	projected := (gross + value) / snapshot.Equity

	for _, z := range []float64{Z95, Z99} {
		var varPct float64

		if gross > 0 && len(snapshot.Returns) >= minReturnSamples {
			varPct = ParametricVaR(snapshot.Returns, z) * projected * snapshot.Equity / gross
		} else {
			varPct = z * snapshot.Volatility * projected
		}

		if varPct > limit {
			return m.reject(signal, types.RejectionVaRBreach,
				fmt.Sprintf("projected VaR %.4f at z=%.3f would exceed limit %.4f",
					varPct, z, limit)), true
		}
	}

	return Decision{}, false
}

func (m *Manager) reject(signal types.Signal, kind types.RejectionKind, detail string) Decision {
	m.log.Debug("signal rejected",
		zap.String("symbol", signal.Symbol),
		zap.String("action", string(signal.Action)),
		zap.String("kind", string(kind)),
		zap.String("detail", detail))

	return Decision{
		Rejection: types.RiskRejection{
			Time:   signal.Time,
			Symbol: signal.Symbol,
			Action: signal.Action,
			Kind:   kind,
			Detail: detail,
		},
	}
}

func approve(quantity float64) Decision {
	return Decision{Approved: true, Quantity: quantity}
}
