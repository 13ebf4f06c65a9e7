package commission

import (
	"github.com/meridianlab/gobacktest/pkg/errors"
)

// Schedule computes the fee charged for one fill.
type Schedule interface {
	// Calculate returns the fee in account currency for a fill of the
	// given share quantity at the given price.
	Calculate(quantity, price float64) float64
}

type Model string

const (
	ModelZero       Model = "zero"
	ModelFlat       Model = "flat"
	ModelPerShare   Model = "per_share"
	ModelPercentage Model = "percentage"
)

var AllModels = []Model{
	ModelZero,
	ModelFlat,
	ModelPerShare,
	ModelPercentage,
}

// Config selects a fee schedule. Rate is the flat fee per order, the fee per
// share, or the fraction of notional depending on the model. Minimum floors
// the fee for per-share and percentage schedules.
type Config struct {
	Model   Model   `yaml:"model" json:"model" validate:"omitempty,oneof=zero flat per_share percentage" jsonschema:"title=Commission Model"`
	Rate    float64 `yaml:"rate" json:"rate" validate:"gte=0" jsonschema:"title=Rate"`
	Minimum float64 `yaml:"minimum" json:"minimum" validate:"gte=0" jsonschema:"title=Minimum Fee"`
}

// NewSchedule builds the schedule described by the config. An empty model
// means zero commission.
func NewSchedule(cfg Config) (Schedule, error) {
	if cfg.Rate < 0 || cfg.Minimum < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidCommission,
			"commission rate %.4f and minimum %.4f must be non-negative", cfg.Rate, cfg.Minimum)
	}

	switch cfg.Model {
	case ModelZero, "":
		return &zeroSchedule{}, nil
	case ModelFlat:
		return &flatSchedule{fee: cfg.Rate}, nil
	case ModelPerShare:
		return &perShareSchedule{perShare: cfg.Rate, minimum: cfg.Minimum}, nil
	case ModelPercentage:
		if cfg.Rate > 1 {
			return nil, errors.Newf(errors.ErrCodeInvalidCommission,
				"percentage commission rate %.4f must be a fraction of notional", cfg.Rate)
		}

		return &percentageSchedule{rate: cfg.Rate, minimum: cfg.Minimum}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidCommission, "unknown commission model %q", cfg.Model)
	}
}

type zeroSchedule struct{}

func (s *zeroSchedule) Calculate(quantity, price float64) float64 {
	return 0
}

type flatSchedule struct {
	fee float64
}

func (s *flatSchedule) Calculate(quantity, price float64) float64 {
	if quantity <= 0 {
		return 0
	}

	return s.fee
}

type perShareSchedule struct {
	perShare float64
	minimum  float64
}

func (s *perShareSchedule) Calculate(quantity, price float64) float64 {
	if quantity <= 0 {
		return 0
	}

	fee := s.perShare * quantity
	if fee < s.minimum {
		return s.minimum
	}

	return fee
}

type percentageSchedule struct {
	rate    float64
	minimum float64
}

func (s *percentageSchedule) Calculate(quantity, price float64) float64 {
	if quantity <= 0 {
		return 0
	}

	fee := s.rate * quantity * price
	if fee < s.minimum {
		return s.minimum
	}

	return fee
}
