package risk

import "math"

// Z-scores for the one-tailed confidence levels used by the parametric
// value-at-risk checks.
const (
	Z95 = 1.645
	Z99 = 2.326
)

// minReturnSamples is the smallest return history the VaR estimate accepts.
const minReturnSamples = 2

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	sum := 0.0
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	mu := mean(xs)

	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(xs)-1))
}

// ParametricVaR estimates value-at-risk as a non-negative fraction of the
// invested value, from a per-bar return history and a one-tailed z-score.
// It assumes returns are normally distributed around their sample mean.
func ParametricVaR(returns []float64, z float64) float64 {
	if len(returns) < minReturnSamples {
		return 0
	}

	v := z*stdDev(returns) - mean(returns)
	if v < 0 {
		return 0
	}

	return v
}
