package slippage

import (
	"math"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
)

// Model adjusts a reference price to simulate market impact. Buys pay up,
// sells receive less.
type Model interface {
	// Adjust returns the effective fill price for an order of the given
	// side and quantity against a bar with the given reference price and
	// volume.
	Adjust(side types.OrderSide, quantity, referencePrice, barVolume float64) float64
}

type Kind string

const (
	KindNone                Kind = "none"
	KindBasisPoints         Kind = "basis_points"
	KindVolumeParticipation Kind = "volume_participation"
)

var AllKinds = []Kind{
	KindNone,
	KindBasisPoints,
	KindVolumeParticipation,
}

// Config selects a slippage model. BasisPoints is the fixed per-fill cost
// for the basis_points model. ImpactFactor scales the square-root impact of
// the volume_participation model.
type Config struct {
	Kind         Kind    `yaml:"kind" json:"kind" validate:"omitempty,oneof=none basis_points volume_participation" jsonschema:"title=Slippage Model"`
	BasisPoints  float64 `yaml:"basis_points" json:"basis_points" validate:"gte=0" jsonschema:"title=Basis Points"`
	ImpactFactor float64 `yaml:"impact_factor" json:"impact_factor" validate:"gte=0" jsonschema:"title=Impact Factor"`
}

// NewModel builds the model described by the config. An empty kind means no
// slippage.
func NewModel(cfg Config) (Model, error) {
	if cfg.BasisPoints < 0 || cfg.ImpactFactor < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidSlippage,
			"slippage parameters must be non-negative (bps %.2f, impact %.4f)",
			cfg.BasisPoints, cfg.ImpactFactor)
	}

	switch cfg.Kind {
	case KindNone, "":
		return &noSlippage{}, nil
	case KindBasisPoints:
		return &basisPointsModel{fraction: cfg.BasisPoints / 10000}, nil
	case KindVolumeParticipation:
		factor := cfg.ImpactFactor
		if factor == 0 {
			factor = 0.1
		}

		return &volumeParticipationModel{factor: factor}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidSlippage, "unknown slippage model %q", cfg.Kind)
	}
}

// signFor maps the order side to the direction prices move against it.
func signFor(side types.OrderSide) float64 {
	if side == types.OrderSideBuy {
		return 1
	}

	return -1
}

type noSlippage struct{}

func (m *noSlippage) Adjust(side types.OrderSide, quantity, referencePrice, barVolume float64) float64 {
	return referencePrice
}

type basisPointsModel struct {
	fraction float64
}

func (m *basisPointsModel) Adjust(side types.OrderSide, quantity, referencePrice, barVolume float64) float64 {
	return referencePrice * (1 + signFor(side)*m.fraction)
}

// volumeParticipationModel charges square-root impact in the order's share
// of bar volume. Doubling participation raises the price concession by
// roughly 41%, which tracks the empirical square-root law for market impact.
type volumeParticipationModel struct {
	factor float64
}

func (m *volumeParticipationModel) Adjust(side types.OrderSide, quantity, referencePrice, barVolume float64) float64 {
	if barVolume <= 0 || quantity <= 0 {
		return referencePrice
	}

	participation := quantity / barVolume

	impact := m.factor * math.Sqrt(participation)

	return referencePrice * (1 + signFor(side)*impact)
}
