// Package optimizer sweeps strategy parameter spaces. Every trial owns an
// isolated engine, portfolio and ledger, so trials run in parallel without
// locking; the only shared structure is the results collector.
package optimizer

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/meridianlab/gobacktest/internal/engine"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Objective selects the metric a sweep ranks by. All objectives rank
// best-first; MaxDrawdown is the only one where smaller is better.
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveSortino      Objective = "sortino"
	ObjectiveTotalPnL     Objective = "total_pnl"
	ObjectiveProfitFactor Objective = "profit_factor"
	ObjectiveWinRate      Objective = "win_rate"
	ObjectiveMaxDrawdown  Objective = "max_drawdown"
)

// DefaultMaxCombinations caps a grid sweep before any trial starts.
const DefaultMaxCombinations = 10000

// Space maps a parameter name to its discrete candidate values.
type Space map[string][]float64

// Config describes one sweep. Base supplies everything except the strategy
// parameters, which each combination overrides.
type Config struct {
	Base  engine.Config `yaml:"base" json:"base"`
	Space Space         `yaml:"space" json:"space"`
	// Objective defaults to Sharpe.
	Objective Objective `yaml:"objective" json:"objective"`
	// TopK bounds the ranked results. Zero keeps every completed trial.
	TopK int `yaml:"top_k" json:"top_k" validate:"gte=0"`
	// MaxCombinations rejects oversized grids before any run. Zero keeps
	// the default ceiling.
	MaxCombinations int `yaml:"max_combinations" json:"max_combinations" validate:"gte=0"`
	// Workers bounds parallel trials. Zero means one per CPU.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0"`
	// TrialTimeout bounds one trial's run time. Zero means no timeout; an
	// elapsed timeout is a trial failure, never a sweep failure.
	TrialTimeout time.Duration `yaml:"trial_timeout" json:"trial_timeout"`
}

// TrialFailure records one combination that could not complete.
type TrialFailure struct {
	Parameters types.ParameterSet `yaml:"parameters" json:"parameters"`
	Err        string             `yaml:"error" json:"error"`
}

// SweepReport is the outcome of a grid sweep: ranked results best-first
// plus the sweep metadata.
type SweepReport struct {
	Ranked    []types.BacktestResult `yaml:"ranked" json:"ranked"`
	Attempted int                    `yaml:"attempted" json:"attempted"`
	Failed    []TrialFailure         `yaml:"failed" json:"failed"`
	// Cancelled marks a sweep stopped early by its context. The trials
	// completed before the stop are still present and ranked.
	Cancelled bool `yaml:"cancelled" json:"cancelled"`
}

// Optimizer runs parameter sweeps over one price series.
type Optimizer struct {
	cfg Config
	log *logger.Logger
}

// New validates the sweep configuration and builds an optimizer.
func New(cfg Config, log *logger.Logger) (*Optimizer, error) {
	if cfg.Objective == "" {
		cfg.Objective = ObjectiveSharpe
	}

	switch cfg.Objective {
	case ObjectiveSharpe, ObjectiveSortino, ObjectiveTotalPnL,
		ObjectiveProfitFactor, ObjectiveWinRate, ObjectiveMaxDrawdown:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidObjective,
			"unknown ranking objective %q", cfg.Objective)
	}

	if cfg.MaxCombinations == 0 {
		cfg.MaxCombinations = DefaultMaxCombinations
	}

	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Optimizer{cfg: cfg, log: log}, nil
}

// GridSearch runs the full cartesian product of the parameter space over
// the series and returns the completed trials ranked by the objective.
// Cancellation is honored between trials: already-running trials finish,
// unstarted ones are skipped, and the report carries the Cancelled flag.
func (o *Optimizer) GridSearch(ctx context.Context, series types.Series) (SweepReport, error) {
	count, err := combinationCount(o.cfg.Space)
	if err != nil {
		return SweepReport{}, err
	}

	// The ceiling check runs before any grid is materialized or any trial
	// starts.
	if count > o.cfg.MaxCombinations {
		return SweepReport{}, errors.Newf(errors.ErrCodeCombinationCeiling,
			"parameter space has %d combinations, ceiling is %d", count, o.cfg.MaxCombinations)
	}

	combos := expand(o.cfg.Space)

	o.log.Info("starting grid sweep",
		zap.Int("combinations", len(combos)),
		zap.Int("workers", o.cfg.Workers),
		zap.String("objective", string(o.cfg.Objective)))

	var (
		mu        sync.Mutex
		report    SweepReport
		collected []types.BacktestResult
	)

	group := errgroup.Group{}
	group.SetLimit(o.cfg.Workers)

	for _, combo := range combos {
		select {
		case <-ctx.Done():
		default:
			group.Go(func() error {
				// One more boundary check: the context may have been
				// cancelled while this trial sat in the worker queue.
				select {
				case <-ctx.Done():
					return nil
				default:
				}

				result, trialErr := o.runTrial(ctx, series, combo)

				mu.Lock()
				defer mu.Unlock()

				report.Attempted++

				if trialErr != nil {
					report.Failed = append(report.Failed, TrialFailure{
						Parameters: combo,
						Err:        trialErr.Error(),
					})

					return nil
				}

				collected = append(collected, result)

				return nil
			})
		}
	}

	// Trial errors are recorded per combination, never escalated, so the
	// group itself cannot fail.
	_ = group.Wait()

	report.Cancelled = ctx.Err() != nil
	report.Ranked = o.rank(collected)

	return report, nil
}

// runTrial runs one combination on its own engine. The sweep context does
// not cancel a running trial; only the configured per-trial timeout does.
func (o *Optimizer) runTrial(ctx context.Context, series types.Series, combo types.ParameterSet) (types.BacktestResult, error) {
	trialCtx := context.WithoutCancel(ctx)

	if o.cfg.TrialTimeout > 0 {
		var cancel context.CancelFunc

		trialCtx, cancel = context.WithTimeout(trialCtx, o.cfg.TrialTimeout)
		defer cancel()
	}

	cfg := o.cfg.Base
	cfg.Strategy.Params = mergeParams(o.cfg.Base.Strategy.Params, combo)

	eng, err := engine.New(cfg, o.log)
	if err != nil {
		return types.BacktestResult{}, err
	}

	return eng.Run(trialCtx, series, nil)
}

// rank orders completed trials best-first by the objective, breaking ties
// on the canonical parameter key so equal scores still rank reproducibly.
func (o *Optimizer) rank(results []types.BacktestResult) []types.BacktestResult {
	sort.Slice(results, func(i, j int) bool {
		si := score(results[i], o.cfg.Objective)
		sj := score(results[j], o.cfg.Objective)

		if si != sj {
			return si > sj
		}

		return results[i].Parameters.Key() < results[j].Parameters.Key()
	})

	if o.cfg.TopK > 0 && len(results) > o.cfg.TopK {
		results = results[:o.cfg.TopK]
	}

	return results
}

// score maps a result onto the objective's best-first axis.
func score(result types.BacktestResult, objective Objective) float64 {
	switch objective {
	case ObjectiveSortino:
		return result.Metrics.Sortino
	case ObjectiveTotalPnL:
		return result.Metrics.TotalPnL
	case ObjectiveProfitFactor:
		// An undefined profit factor means zero gross loss, which ranks
		// above any finite ratio.
		if result.Metrics.ProfitFactor.IsNone() {
			return math.Inf(1)
		}

		return result.Metrics.ProfitFactor.Unwrap()
	case ObjectiveWinRate:
		return result.Metrics.WinRate
	case ObjectiveMaxDrawdown:
		return -result.Metrics.MaxDrawdown
	default:
		return result.Metrics.Sharpe
	}
}

// combinationCount sizes the grid without materializing it.
func combinationCount(space Space) (int, error) {
	if len(space) == 0 {
		return 0, errors.New(errors.ErrCodeEmptyParameterSet, "parameter space is empty")
	}

	count := 1

	for name, candidates := range space {
		if len(candidates) == 0 {
			return 0, errors.Newf(errors.ErrCodeEmptyParameterSet,
				"parameter %q has no candidate values", name)
		}

		if count > math.MaxInt/len(candidates) {
			return math.MaxInt, nil
		}

		count *= len(candidates)
	}

	return count, nil
}

// expand builds the cartesian product of the space in deterministic order:
// parameter names sorted, candidates in declaration order.
func expand(space Space) []types.ParameterSet {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}

	sort.Strings(names)

	combos := []types.ParameterSet{{}}

	for _, name := range names {
		next := make([]types.ParameterSet, 0, len(combos)*len(space[name]))

		for _, combo := range combos {
			for _, value := range space[name] {
				grown := combo.Clone()
				grown[name] = value
				next = append(next, grown)
			}
		}

		combos = next
	}

	return combos
}

// mergeParams overlays a combination on the base strategy parameters.
func mergeParams(base, combo types.ParameterSet) types.ParameterSet {
	merged := base.Clone()
	for name, value := range combo {
		merged[name] = value
	}

	return merged
}
