package optimizer

import (
	"context"
	"testing"

	"github.com/meridianlab/gobacktest/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walkForwardOptimizer(t *testing.T) *Optimizer {
	t.Helper()

	opt, err := New(Config{
		Base: baseConfig(),
		Space: Space{
			"short_window": {4, 5},
			"long_window":  {15, 20},
		},
	}, nil)
	require.NoError(t, err)

	return opt
}

func TestWalkForwardTilesTheSeries(t *testing.T) {
	series := risingSeries(t, 120)

	report, err := walkForwardOptimizer(t).WalkForward(context.Background(), series, 60, 30)
	require.NoError(t, err)

	require.Len(t, report.Windows, 2)
	assert.Empty(t, report.Failed)
	assert.Zero(t, report.SkippedTailBars)
	assert.False(t, report.Cancelled)

	for _, window := range report.Windows {
		assert.True(t, window.TrainEnd.Before(window.TestStart))
		assert.Equal(t, 30, window.Result.BarsProcessed)
		assert.NotEmpty(t, window.Parameters)
	}

	// Test windows advance by their own length, back to back.
	assert.Equal(t, report.Windows[0].TestEnd.AddDate(0, 0, 30),
		report.Windows[1].TestEnd)
}

func TestWalkForwardSkipsShortTail(t *testing.T) {
	series := risingSeries(t, 130)

	report, err := walkForwardOptimizer(t).WalkForward(context.Background(), series, 60, 30)
	require.NoError(t, err)

	assert.Len(t, report.Windows, 2)
	assert.Equal(t, 10, report.SkippedTailBars)
}

func TestWalkForwardRejectsBadSplits(t *testing.T) {
	series := risingSeries(t, 100)

	opt := walkForwardOptimizer(t)

	_, err := opt.WalkForward(context.Background(), series, 0, 30)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidWindowSplit))

	_, err = opt.WalkForward(context.Background(), series, 60, -1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidWindowSplit))

	_, err = opt.WalkForward(context.Background(), series, 90, 20)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidWindowSplit))
}

func TestWalkForwardCancelledBetweenWindows(t *testing.T) {
	series := risingSeries(t, 120)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := walkForwardOptimizer(t).WalkForward(ctx, series, 60, 30)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Windows)
	assert.Equal(t, 120, report.SkippedTailBars)
}

func TestWalkForwardIsDeterministic(t *testing.T) {
	series := risingSeries(t, 150)

	first, err := walkForwardOptimizer(t).WalkForward(context.Background(), series, 60, 30)
	require.NoError(t, err)

	second, err := walkForwardOptimizer(t).WalkForward(context.Background(), series, 60, 30)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
