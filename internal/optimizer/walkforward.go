package optimizer

import (
	"context"
	"time"

	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"go.uber.org/zap"
)

// WindowResult is one train/test window of a walk-forward pass: the
// parameters the train slice selected and the out-of-sample result those
// parameters produced on the test slice.
type WindowResult struct {
	TrainStart time.Time `yaml:"train_start" json:"train_start"`
	TrainEnd   time.Time `yaml:"train_end" json:"train_end"`
	TestStart  time.Time `yaml:"test_start" json:"test_start"`
	TestEnd    time.Time `yaml:"test_end" json:"test_end"`

	Parameters types.ParameterSet   `yaml:"parameters" json:"parameters"`
	TrainScore float64              `yaml:"train_score" json:"train_score"`
	Result     types.BacktestResult `yaml:"result" json:"result"`
}

// WalkForwardReport collects every completed window plus the windows that
// produced no usable parameters.
type WalkForwardReport struct {
	Windows []WindowResult `yaml:"windows" json:"windows"`
	Failed  []TrialFailure `yaml:"failed" json:"failed"`
	// SkippedTailBars counts trailing bars too short for a full window.
	SkippedTailBars int  `yaml:"skipped_tail_bars" json:"skipped_tail_bars"`
	Cancelled       bool `yaml:"cancelled" json:"cancelled"`
}

// WalkForward rolls train/test window pairs across the series. Each train
// slice runs a full grid sweep and its best combination is then replayed
// once on the adjacent test slice; windows advance by the test length so
// test slices tile the series without overlap. Cancellation is checked
// between windows.
func (o *Optimizer) WalkForward(ctx context.Context, series types.Series, trainBars, testBars int) (WalkForwardReport, error) {
	if trainBars <= 0 || testBars <= 0 {
		return WalkForwardReport{}, errors.Newf(errors.ErrCodeInvalidWindowSplit,
			"train (%d) and test (%d) window lengths must be positive", trainBars, testBars)
	}

	if trainBars+testBars > series.Len() {
		return WalkForwardReport{}, errors.Newf(errors.ErrCodeInvalidWindowSplit,
			"train+test window (%d bars) exceeds the series (%d bars)", trainBars+testBars, series.Len())
	}

	var report WalkForwardReport

	covered := 0

	for start := 0; start+trainBars+testBars <= series.Len(); start += testBars {
		select {
		case <-ctx.Done():
			report.Cancelled = true
			report.SkippedTailBars = series.Len() - covered

			return report, nil
		default:
		}

		window, failure, err := o.runWindow(ctx, series, start, trainBars, testBars)
		if err != nil {
			return WalkForwardReport{}, err
		}

		if failure != nil {
			report.Failed = append(report.Failed, *failure)
		} else {
			report.Windows = append(report.Windows, window)
		}

		covered = start + trainBars + testBars
	}

	report.Cancelled = ctx.Err() != nil
	report.SkippedTailBars = series.Len() - covered

	o.log.Info("walk-forward finished",
		zap.Int("windows", len(report.Windows)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped_tail_bars", report.SkippedTailBars))

	return report, nil
}

// runWindow sweeps one train slice and replays the winner on the test
// slice. A window with no completed train trial is a window-level failure,
// never a pass-level error.
func (o *Optimizer) runWindow(ctx context.Context, series types.Series, start, trainBars, testBars int) (WindowResult, *TrialFailure, error) {
	train, err := series.Slice(start, start+trainBars)
	if err != nil {
		return WindowResult{}, nil, err
	}

	test, err := series.Slice(start+trainBars, start+trainBars+testBars)
	if err != nil {
		return WindowResult{}, nil, err
	}

	sweep, err := o.GridSearch(ctx, train)
	if err != nil {
		return WindowResult{}, nil, err
	}

	if len(sweep.Ranked) == 0 {
		detail := "no train trial completed"
		if len(sweep.Failed) > 0 {
			detail = sweep.Failed[0].Err
		}

		return WindowResult{}, &TrialFailure{
			Parameters: types.ParameterSet{"window_start": float64(start)},
			Err:        detail,
		}, nil
	}

	best := sweep.Ranked[0]

	result, err := o.runTrial(ctx, test, best.Parameters)
	if err != nil {
		return WindowResult{}, &TrialFailure{Parameters: best.Parameters, Err: err.Error()}, nil
	}

	return WindowResult{
		TrainStart: train.Bars[0].Time,
		TrainEnd:   train.Bars[train.Len()-1].Time,
		TestStart:  test.Bars[0].Time,
		TestEnd:    test.Bars[test.Len()-1].Time,
		Parameters: best.Parameters,
		TrainScore: score(best, o.cfg.Objective),
		Result:     result,
	}, nil, nil
}
